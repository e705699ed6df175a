package query

import (
	"errors"
	"strings"
	"testing"
)

func TestCompileOwnerScope(t *testing.T) {
	t.Run("regular user is scoped to own rows", func(t *testing.T) {
		c, err := Compile(Params{UserID: 7})
		if err != nil {
			t.Fatalf("Compile() error = %v", err)
		}
		if !strings.Contains(c.Where, "userid = ?") {
			t.Errorf("Where = %q, want userid scope", c.Where)
		}
		if c.Args[0] != int64(7) {
			t.Errorf("Args[0] = %v, want 7", c.Args[0])
		}
	})

	t.Run("anonymous scope is NULL", func(t *testing.T) {
		c, err := Compile(Params{})
		if err != nil {
			t.Fatalf("Compile() error = %v", err)
		}
		if !strings.Contains(c.Where, "userid IS NULL") {
			t.Errorf("Where = %q, want userid IS NULL", c.Where)
		}
	})

	t.Run("moderator list-all drops owner scope", func(t *testing.T) {
		c, err := Compile(Params{UserID: 7, Moderator: true, ListAll: true})
		if err != nil {
			t.Fatalf("Compile() error = %v", err)
		}
		if strings.Contains(c.Where, "userid = ?") {
			t.Errorf("Where = %q, want no owner scope", c.Where)
		}
	})
}

func TestCompileCaps(t *testing.T) {
	t.Run("text quota enforced", func(t *testing.T) {
		_, err := Compile(Params{Expression: "a b c d", UserID: 1})
		var quota *QuotaError
		if !errors.As(err, &quota) {
			t.Fatalf("Compile() error = %v, want QuotaError", err)
		}
		if !strings.Contains(quota.Error(), "text queries") {
			t.Errorf("error = %q, want mention of text queries", quota.Error())
		}
	})

	t.Run("moderator bypasses caps", func(t *testing.T) {
		_, err := Compile(Params{Expression: "a b c d e f", UserID: 1, Moderator: true})
		if err != nil {
			t.Errorf("Compile() error = %v, want nil", err)
		}
	})

	t.Run("wildcard cap per key", func(t *testing.T) {
		_, err := Compile(Params{Expression: "type:*a*b*", UserID: 1})
		var quota *QuotaError
		if !errors.As(err, &quota) {
			t.Fatalf("Compile() error = %v, want QuotaError", err)
		}
	})

	t.Run("sort key cap", func(t *testing.T) {
		_, err := Compile(Params{Expression: "sort:id sort:size sort:name", UserID: 1})
		var quota *QuotaError
		if !errors.As(err, &quota) {
			t.Fatalf("Compile() error = %v, want QuotaError", err)
		}
	})
}

func TestCompileVisibility(t *testing.T) {
	t.Run("user filter needs moderator", func(t *testing.T) {
		if _, err := Compile(Params{Expression: "user:bob", UserID: 1}); err == nil {
			t.Error("Compile() = nil error, want visibility error")
		}
	})

	t.Run("ip sort needs moderator", func(t *testing.T) {
		if _, err := Compile(Params{Expression: "sort:ip", UserID: 1}); err == nil {
			t.Error("Compile() = nil error, want visibility error")
		}
	})

	t.Run("albumid suppressed inside an album", func(t *testing.T) {
		c, err := Compile(Params{Expression: "albumid:3", UserID: 1, AlbumID: 9})
		if err != nil {
			t.Fatalf("Compile() error = %v", err)
		}
		for _, a := range c.Args {
			if a == int64(3) {
				t.Error("albumid term leaked into args inside an album listing")
			}
		}
		if !strings.Contains(c.Where, "albumid = ?") {
			t.Errorf("Where = %q, want album scope", c.Where)
		}
	})
}

func TestCompileParameterization(t *testing.T) {
	// Hostile input must end up in args only, never in the SQL text.
	hostile := `x';DROP TABLE files;-- type:evil%_`
	c, err := Compile(Params{Expression: hostile, UserID: 1, Moderator: true, ListAll: true})
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	if strings.Contains(c.Where, "DROP") || strings.Contains(c.Where, "evil") {
		t.Errorf("user input leaked into SQL text: %q", c.Where)
	}
}

func TestEscapeLike(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain", "plain"},
		{"100%", `100\%`},
		{"under_score", `under\_score`},
		{"glob*", "glob%"},
		{"single?", "single_"},
		{`back\slash`, `back\\slash`},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := escapeLike(tt.in); got != tt.want {
				t.Errorf("escapeLike(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNullSentinel(t *testing.T) {
	c, err := Compile(Params{Expression: "albumid:-", UserID: 1})
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	if !strings.Contains(c.Where, "albumid IS NULL") {
		t.Errorf("Where = %q, want albumid IS NULL", c.Where)
	}

	// Exclusion wins over inclusion on conflict.
	c, err = Compile(Params{Expression: "albumid:- -albumid:-", UserID: 1})
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	if !strings.Contains(c.Where, "albumid IS NOT NULL") {
		t.Errorf("Where = %q, want albumid IS NOT NULL", c.Where)
	}
}

func TestOrderClause(t *testing.T) {
	t.Run("default order", func(t *testing.T) {
		c, err := Compile(Params{UserID: 1})
		if err != nil {
			t.Fatalf("Compile() error = %v", err)
		}
		if c.Order != "id DESC" {
			t.Errorf("Order = %q, want id DESC", c.Order)
		}
	})

	t.Run("size sorts with integer cast and direction", func(t *testing.T) {
		c, err := Compile(Params{Expression: "sort:size:desc", UserID: 1})
		if err != nil {
			t.Fatalf("Compile() error = %v", err)
		}
		if c.Order != "CAST(size AS INTEGER) DESC" {
			t.Errorf("Order = %q", c.Order)
		}
	})

	t.Run("nullable columns get NULLS LAST", func(t *testing.T) {
		c, err := Compile(Params{Expression: "sort:expiry", UserID: 1})
		if err != nil {
			t.Fatalf("Compile() error = %v", err)
		}
		if c.Order != "expirydate ASC NULLS LAST" {
			t.Errorf("Order = %q", c.Order)
		}
	})
}

func TestPageOffset(t *testing.T) {
	tests := []struct {
		name  string
		count int64
		page  int
		size  int
		want  int
	}{
		{"first page", 100, 0, 25, 0},
		{"third page", 100, 2, 25, 50},
		{"last page from tail", 100, -1, 25, 75},
		{"tail beyond start clamps to zero", 10, -5, 25, 0},
		{"partial last page", 90, -1, 25, 75},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PageOffset(tt.count, tt.page, tt.size); got != tt.want {
				t.Errorf("PageOffset(%d, %d, %d) = %d, want %d",
					tt.count, tt.page, tt.size, got, tt.want)
			}
		})
	}
}
