package ingest

import "testing"

func TestExtname(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"photo.JPG", ".jpg"},
		{"archive.tar.gz", ".tar.gz"},
		{"backup.TAR.XZ", ".tar.xz"},
		{"noext", ""},
		{"trailing.", "."},
		{"weird.name.png", ".png"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := Extname(tt.in); got != tt.want {
				t.Errorf("Extname(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestFilter(t *testing.T) {
	t.Run("blacklist", func(t *testing.T) {
		f := NewFilter("blacklist", []string{".exe", ".bat"})
		if f.Allowed(".exe") {
			t.Error("blacklisted extension allowed")
		}
		if !f.Allowed(".png") {
			t.Error("unlisted extension blocked")
		}
		if f.Allowed(".EXE") {
			t.Error("filter must be case-insensitive")
		}
	})

	t.Run("whitelist", func(t *testing.T) {
		f := NewFilter("whitelist", []string{".png", ".jpg"})
		if !f.Allowed(".png") {
			t.Error("whitelisted extension blocked")
		}
		if f.Allowed(".exe") {
			t.Error("unlisted extension allowed under whitelist")
		}
	})

	t.Run("empty filter allows everything", func(t *testing.T) {
		for _, mode := range []string{"blacklist", "whitelist"} {
			f := NewFilter(mode, nil)
			if !f.Allowed(".anything") {
				t.Errorf("empty %s filter blocked an extension", mode)
			}
		}
		var nilFilter *Filter
		if !nilFilter.Allowed(".x") {
			t.Error("nil filter blocked an extension")
		}
	})
}

func TestMIMEByExtension(t *testing.T) {
	if got := MIMEByExtension(".png"); got != "image/png" {
		t.Errorf("MIMEByExtension(.png) = %q", got)
	}
	if got := MIMEByExtension(".nosuchext"); got != "application/octet-stream" {
		t.Errorf("MIMEByExtension fallback = %q", got)
	}
}
