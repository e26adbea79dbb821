package authz

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/zaidku/LHUMS/internal/auth"
	"github.com/zaidku/LHUMS/internal/tenant"
)

// Category classifies attributes. CategoryLab is special: system admins
// implicitly hold every active lab-category attribute.
type Category string

const (
	CategoryLab     Category = "lab"
	CategorySystem  Category = "system"
	CategoryBilling Category = "billing"
	CategoryReports Category = "reports"
	CategoryAdmin   Category = "admin"
)

var categories = map[Category]struct{}{
	CategoryLab:     {},
	CategorySystem:  {},
	CategoryBilling: {},
	CategoryReports: {},
	CategoryAdmin:   {},
}

// ParseCategory validates a category tag.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.TrimSpace(strings.ToLower(s)))
	if _, ok := categories[c]; !ok {
		return "", fmt.Errorf("%w: category must be one of lab, system, billing, reports, admin", auth.ErrInvalidInput)
	}
	return c, nil
}

// Attribute names are lowercase dot-separated segments, 2-4 of them, the
// first pure letters and the rest letters or underscore, e.g.
// lab.patient.read.
var attributeNamePattern = regexp.MustCompile(`^[a-z]+(\.[a-z_]+){1,3}$`)

// ValidateAttributeName checks the structural grammar of a permission
// string.
func ValidateAttributeName(name string) error {
	if len(name) < 3 || len(name) > 100 {
		return fmt.Errorf("%w: attribute name must be 3-100 characters", auth.ErrInvalidInput)
	}
	if !attributeNamePattern.MatchString(name) {
		return fmt.Errorf("%w: attribute name must be 2-4 lowercase dot-separated segments (e.g. lab.patient.read)", auth.ErrInvalidInput)
	}
	return nil
}

// Attribute is a fine-grained permission. The name is its immutable
// identity; deactivation is soft and never a hard delete while referenced.
type Attribute struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Category    Category  `json:"category"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
}

// RoleGrant associates a coarse role with an attribute. A nil LabID is a
// system-wide default applying to that role in every lab. Unique per
// (role, attribute, lab).
type RoleGrant struct {
	ID          string      `json:"id"`
	RoleName    tenant.Role `json:"role_name"`
	AttributeID string      `json:"attribute_id"`
	LabID       *string     `json:"lab_id,omitempty"`
	GrantedBy   string      `json:"granted_by,omitempty"`
	GrantedAt   time.Time   `json:"granted_at"`
}

// UserGrant gives one user, within one lab, an attribute beyond their role.
// Unique per (user, lab, attribute); revocation is soft, expiry is
// evaluated at read time.
type UserGrant struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	LabID       string     `json:"lab_id"`
	AttributeID string     `json:"attribute_id"`
	GrantedBy   string     `json:"granted_by"`
	GrantedAt   time.Time  `json:"granted_at"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	IsActive    bool       `json:"is_active"`
}

// Expired reports whether the grant's window has elapsed. Grants without an
// expiry never expire.
func (g *UserGrant) Expired(now time.Time) bool {
	return g.ExpiresAt != nil && now.After(*g.ExpiresAt)
}

// Valid reports whether the grant currently applies.
func (g *UserGrant) Valid(now time.Time) bool {
	return g.IsActive && !g.Expired(now)
}
