// Package thumbs renders thumbnails for image uploads.
package thumbs

import (
	"fmt"
	"os"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/abdul-hamid-achik/safe/internal/metrics"
	"github.com/abdul-hamid-achik/safe/internal/paths"
)

const thumbSize = 200

// Generator renders PNG thumbnails under uploads/thumbs. A failed render
// leaves a symlink to the placeholder so the frontend gets a stable URL
// either way.
type Generator struct {
	Paths       *paths.Paths
	Exts        map[string]bool
	Placeholder string
}

func NewGenerator(p *paths.Paths, exts []string, placeholder string) *Generator {
	m := make(map[string]bool, len(exts))
	for _, e := range exts {
		m[strings.ToLower(e)] = true
	}
	return &Generator{Paths: p, Exts: m, Placeholder: placeholder}
}

// CanThumb reports whether the extension has thumbnail support.
func (g *Generator) CanThumb(ext string) bool {
	return g != nil && g.Exts[strings.ToLower(ext)]
}

// Generate renders the thumbnail for the committed file name.
func (g *Generator) Generate(name string) error {
	src := g.Paths.File(name)
	dest := g.Paths.Thumb(name)

	img, err := imaging.Open(src)
	if err != nil {
		g.placehold(dest)
		metrics.ThumbnailsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to decode %s: %w", name, err)
	}

	thumb := imaging.Fit(img, thumbSize, thumbSize, imaging.Lanczos)
	if err := imaging.Save(thumb, dest); err != nil {
		g.placehold(dest)
		metrics.ThumbnailsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to save thumbnail for %s: %w", name, err)
	}
	metrics.ThumbnailsTotal.WithLabelValues("success").Inc()
	return nil
}

func (g *Generator) placehold(dest string) {
	if g.Placeholder == "" {
		return
	}
	_ = os.Remove(dest)
	_ = os.Symlink(g.Placeholder, dest)
}
