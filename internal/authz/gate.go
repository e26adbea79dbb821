package authz

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/zaidku/LHUMS/internal/auth"
	"github.com/zaidku/LHUMS/internal/obs"
	"github.com/zaidku/LHUMS/internal/tenant"
)

// Decision is the outcome of an attribute check: the attributes the caller
// holds and, when denied, the ones they lack.
type Decision struct {
	Granted map[string]struct{}
	Missing []string
}

// Allowed reports whether nothing was missing.
func (d Decision) Allowed() bool { return len(d.Missing) == 0 }

// Gate enforces access decisions ahead of business operations. Handlers ask
// it one question per request; it never mutates state.
type Gate struct {
	resolver *Resolver
	members  MembershipSource
	now      func() time.Time
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithGateClock overrides the gate's time source.
func WithGateClock(now func() time.Time) GateOption {
	return func(g *Gate) { g.now = now }
}

// NewGate wires a gate over a resolver and membership lookup.
func NewGate(resolver *Resolver, members MembershipSource, opts ...GateOption) *Gate {
	g := &Gate{resolver: resolver, members: members, now: time.Now}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// RequireAttributes checks that the caller holds every named attribute in
// the lab. The returned decision lists what is missing, sorted, so callers
// can report it.
func (g *Gate) RequireAttributes(ctx context.Context, caller *auth.User, labID string, required ...string) (Decision, error) {
	held, err := g.resolver.EffectiveAttributes(ctx, caller, labID, g.now())
	if err != nil {
		return Decision{}, err
	}
	d := Decision{Granted: held}
	for _, name := range required {
		if _, ok := held[name]; !ok {
			d.Missing = append(d.Missing, name)
		}
	}
	sort.Strings(d.Missing)
	if !d.Allowed() {
		obs.AuthorizationDeniedTotal.WithLabelValues("missing_attribute").Inc()
	}
	return d, nil
}

// RequireAnyAttribute reports whether the caller holds at least one of the
// named attributes in the lab.
func (g *Gate) RequireAnyAttribute(ctx context.Context, caller *auth.User, labID string, required ...string) (bool, error) {
	held, err := g.resolver.EffectiveAttributes(ctx, caller, labID, g.now())
	if err != nil {
		return false, err
	}
	for _, name := range required {
		if _, ok := held[name]; ok {
			return true, nil
		}
	}
	obs.AuthorizationDeniedTotal.WithLabelValues("missing_attribute").Inc()
	return false, nil
}

// RequireLabAdmin fails with ErrForbidden unless the caller is a system
// admin or holds the admin role in the lab.
func (g *Gate) RequireLabAdmin(ctx context.Context, caller *auth.User, labID string) error {
	ok, err := g.resolver.HasMinimumRole(ctx, caller, labID, tenant.RoleAdmin)
	if err != nil {
		return err
	}
	if !ok {
		obs.AuthorizationDeniedTotal.WithLabelValues("not_lab_admin").Inc()
		return fmt.Errorf("%w: lab admin role required", auth.ErrForbidden)
	}
	return nil
}

// VerifyAccess fails with ErrForbidden unless the caller is a system admin
// or an active member of the lab. It is the tenant isolation check every
// lab-scoped read passes through.
func (g *Gate) VerifyAccess(ctx context.Context, caller *auth.User, labID string) error {
	if caller.IsAdmin {
		return nil
	}
	role, err := g.members.RoleOf(ctx, caller.ID, labID)
	if err != nil {
		return err
	}
	if role == "" {
		obs.AuthorizationDeniedTotal.WithLabelValues("not_member").Inc()
		return fmt.Errorf("%w: not a member of this lab", auth.ErrForbidden)
	}
	return nil
}

// AccessibleLabs returns the lab IDs the caller may see: nil for system
// admins (no filter), otherwise the labs where they hold an active
// membership.
func (g *Gate) AccessibleLabs(ctx context.Context, caller *auth.User) ([]string, error) {
	if caller.IsAdmin {
		return nil, nil
	}
	return g.members.ListLabsFor(ctx, caller.ID)
}
