package ingest

import (
	"fmt"
	"os"
	"strings"

	"github.com/disintegration/imaging"
)

// strippableExts are the formats the re-encoder can rewrite in place.
// Decoding and re-saving drops EXIF and every other ancillary block.
var strippableExts = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".bmp":  true,
	".tiff": true,
}

// StripTags rewrites the file at path without its metadata. Files of
// non-strippable types are left untouched; a failed rewrite is an error so
// the caller can reject the whole batch.
func StripTags(path string) error {
	ext := Extname(path)
	if !strippableExts[ext] {
		return nil
	}

	img, err := imaging.Open(path)
	if err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}

	tmp := strings.TrimSuffix(path, ext) + ".strip" + ext
	if err := imaging.Save(img, tmp); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to re-encode %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}

// CanStrip reports whether the extension has a strip implementation.
func CanStrip(ext string) bool {
	return strippableExts[strings.ToLower(ext)]
}
