package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Paths resolves and owns the on-disk layout:
//
//	uploads/<identifier><ext>
//	uploads/thumbs/<identifier>.png
//	uploads/zips/<album-identifier>.zip
//	uploads/chunks/<ip>_<uuid>/tmp
type Paths struct {
	root string
}

// New resolves root to an absolute path and creates the uploads, chunks,
// thumbs and zips directories.
func New(root string) (*Paths, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve uploads root: %w", err)
	}
	p := &Paths{root: abs}
	for _, dir := range []string{abs, p.Chunks(), p.Thumbs(), p.Zips()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return p, nil
}

func (p *Paths) Root() string   { return p.root }
func (p *Paths) Chunks() string { return filepath.Join(p.root, "chunks") }
func (p *Paths) Thumbs() string { return filepath.Join(p.root, "thumbs") }
func (p *Paths) Zips() string   { return filepath.Join(p.root, "zips") }

// File returns the committed location for a public name (identifier+ext).
func (p *Paths) File(name string) string {
	return filepath.Join(p.root, filepath.Base(name))
}

// Thumb returns the thumbnail path for an identifier (extension stripped).
func (p *Paths) Thumb(name string) string {
	base := filepath.Base(name)
	ident := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(p.Thumbs(), ident+".png")
}

// Zip returns the archive path for an album identifier.
func (p *Paths) Zip(identifier string) string {
	return filepath.Join(p.Zips(), filepath.Base(identifier)+".zip")
}

// ChunkDir returns the session directory for a namespaced uuid.
func (p *Paths) ChunkDir(namespacedUUID string) string {
	return filepath.Join(p.Chunks(), filepath.Base(namespacedUUID))
}

// Remove unlinks a path only if it lives under the uploads root. Absent
// files are not an error so deletion stays idempotent.
func (p *Paths) Remove(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if !strings.HasPrefix(abs, p.root+string(filepath.Separator)) {
		return fmt.Errorf("refusing to remove %s: outside uploads root", path)
	}
	if err := os.Remove(abs); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
