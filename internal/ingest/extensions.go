package ingest

import (
	"mime"
	"path/filepath"
	"strings"
)

// compound extensions kept whole so archives keep their real suffix.
var compoundExts = []string{".tar.gz", ".tar.xz", ".tar.bz2", ".tar.zst"}

// Extname returns the lowercased extension of name, preserving compound
// archive suffixes.
func Extname(name string) string {
	lower := strings.ToLower(name)
	for _, ext := range compoundExts {
		if strings.HasSuffix(lower, ext) {
			return ext
		}
	}
	return strings.ToLower(filepath.Ext(lower))
}

// Filter applies an extension blacklist or whitelist.
type Filter struct {
	Mode string // "blacklist" or "whitelist"
	Exts map[string]bool
}

func NewFilter(mode string, exts []string) *Filter {
	m := make(map[string]bool, len(exts))
	for _, e := range exts {
		m[strings.ToLower(e)] = true
	}
	return &Filter{Mode: mode, Exts: m}
}

// Allowed reports whether ext passes the filter. An empty blacklist allows
// everything; an empty whitelist also allows everything so a missing
// config cannot brick uploads.
func (f *Filter) Allowed(ext string) bool {
	if f == nil || len(f.Exts) == 0 {
		return true
	}
	listed := f.Exts[strings.ToLower(ext)]
	if f.Mode == "whitelist" {
		return listed
	}
	return !listed
}

// MIMEByExtension derives a content type from an extension, falling back
// to application/octet-stream.
func MIMEByExtension(ext string) string {
	if t := mime.TypeByExtension(ext); t != "" {
		// Strip charset parameters; the column stores the bare type.
		if i := strings.Index(t, ";"); i >= 0 {
			t = t[:i]
		}
		return t
	}
	return "application/octet-stream"
}
