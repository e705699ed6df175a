package query

import (
	"testing"
	"time"
)

func TestParseHumanDuration(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"30s", 30 * time.Second, false},
		{"90", 90 * time.Second, false},
		{"5m", 5 * time.Minute, false},
		{"12h", 12 * time.Hour, false},
		{"7d", 7 * 24 * time.Hour, false},
		{"2weeks", 14 * 24 * time.Hour, false},
		{"1d12h", 36 * time.Hour, false},
		{"3 days", 3 * 24 * time.Hour, false},
		{"", 0, true},
		{"abc", 0, true},
		{"5parsecs", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseHumanDuration(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseHumanDuration(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("parseHumanDuration(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseAbsolute(t *testing.T) {
	t.Run("year precision covers the year", func(t *testing.T) {
		r, err := parseAbsolute("2021", 0)
		if err != nil {
			t.Fatalf("parseAbsolute() error = %v", err)
		}
		from := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC).Unix()
		to := time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC).Unix()
		if r.from != from || r.to != to {
			t.Errorf("range = [%d, %d], want [%d, %d]", r.from, r.to, from, to)
		}
	})

	t.Run("month precision", func(t *testing.T) {
		r, err := parseAbsolute("2021/03", 0)
		if err != nil {
			t.Fatalf("parseAbsolute() error = %v", err)
		}
		from := time.Date(2021, 3, 1, 0, 0, 0, 0, time.UTC).Unix()
		to := time.Date(2021, 4, 1, 0, 0, 0, 0, time.UTC).Unix()
		if r.from != from || r.to != to {
			t.Errorf("range = [%d, %d], want [%d, %d]", r.from, r.to, from, to)
		}
	})

	t.Run("day and time precision", func(t *testing.T) {
		r, err := parseAbsolute("2021/03/15 14:30", 0)
		if err != nil {
			t.Fatalf("parseAbsolute() error = %v", err)
		}
		from := time.Date(2021, 3, 15, 14, 30, 0, 0, time.UTC).Unix()
		if r.from != from {
			t.Errorf("from = %d, want %d", r.from, from)
		}
		if r.to-r.from != 60 {
			t.Errorf("window = %ds, want 60s", r.to-r.from)
		}
	})

	t.Run("timezone offset shifts the window", func(t *testing.T) {
		base, err := parseAbsolute("2021/03/15", 0)
		if err != nil {
			t.Fatal(err)
		}
		shifted, err := parseAbsolute("2021/03/15", 300) // UTC-5 client
		if err != nil {
			t.Fatal(err)
		}
		if shifted.from-base.from != 300*60 {
			t.Errorf("offset shift = %d, want %d", shifted.from-base.from, 300*60)
		}
	})

	t.Run("garbage rejected", func(t *testing.T) {
		for _, in := range []string{"", "x/y", "2021/13/45/9", "2021 25:61:61:0"} {
			if _, err := parseAbsolute(in, 0); err == nil {
				t.Errorf("parseAbsolute(%q) = nil error, want failure", in)
			}
		}
	})
}

func TestParseRangeRelative(t *testing.T) {
	now := time.Now().Unix()

	r, err := parseRange(">7d", 0)
	if err != nil {
		t.Fatalf("parseRange() error = %v", err)
	}
	want := now - 7*24*3600
	if r.from < want-5 || r.from > want+5 {
		t.Errorf("from = %d, want ≈ %d", r.from, want)
	}
	if r.to != 0 {
		t.Errorf("to = %d, want unset", r.to)
	}

	r, err = parseRange("<1h", 0)
	if err != nil {
		t.Fatalf("parseRange() error = %v", err)
	}
	want = now - 3600
	if r.to < want-5 || r.to > want+5 {
		t.Errorf("to = %d, want ≈ %d", r.to, want)
	}
}
