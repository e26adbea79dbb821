package migrate

import (
	"strings"
	"testing"
)

func TestSplitStatements(t *testing.T) {
	sql := `
create table users (id text primary key);
insert into attributes (name) values ('lab;view');
create index users_id_idx on users (id)
`
	stmts := splitStatements(sql)
	if len(stmts) != 3 {
		t.Fatalf("got %d statements: %q", len(stmts), stmts)
	}
	if !strings.Contains(stmts[1], "'lab;view'") {
		t.Fatalf("semicolon inside a string literal was split: %q", stmts[1])
	}
	if !strings.Contains(stmts[2], "create index") {
		t.Fatalf("trailing statement without semicolon lost: %q", stmts[2])
	}
}

func TestSplitStatementsEmpty(t *testing.T) {
	if got := splitStatements("  \n\t "); len(got) != 0 {
		t.Fatalf("expected no statements, got %q", got)
	}
}
