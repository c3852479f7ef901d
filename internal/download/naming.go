package download

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"flacdl/internal/models"
)

const (
	maxNameLength = 200
	illegalChars  = `<>:"/\|?*`
	fallbackName  = "download"
)

// SanitizeFilename makes a catalog-supplied name safe for common
// filesystems. It is idempotent.
func SanitizeFilename(name string) string {
	name = strings.Map(func(r rune) rune {
		if strings.ContainsRune(illegalChars, r) {
			return '_'
		}
		return r
	}, name)
	name = strings.Trim(name, ". ")

	if runes := []rune(name); len(runes) > maxNameLength {
		ext := []rune(filepath.Ext(name))
		if len(ext) >= maxNameLength {
			ext = nil
		}
		stem := runes[:len(runes)-len(ext)]
		stem = stem[:maxNameLength-len(ext)]
		name = string(stem) + string(ext)
		if len(ext) == 0 {
			name = strings.TrimRight(name, ". ")
		}
	}

	if name == "" {
		return fallbackName
	}
	return name
}

// TrackFilename is "<name> - <artist>.<format>", unsanitized.
func TrackFilename(t models.Track) string {
	format := t.Format
	if format == "" {
		format = "flac"
	}
	return fmt.Sprintf("%s - %s.%s", t.Name, t.Artist, format)
}

// UniquePath returns dir/filename, or the first dir/stem_N.ext that does
// not exist yet.
func UniquePath(dir, filename string) string {
	path := filepath.Join(dir, filename)
	ext := filepath.Ext(filename)
	stem := strings.TrimSuffix(filename, ext)
	for i := 1; exists(path); i++ {
		path = filepath.Join(dir, fmt.Sprintf("%s_%d%s", stem, i, ext))
	}
	return path
}

func exists(path string) bool {
	_, err := os.Lstat(path)
	return !errors.Is(err, fs.ErrNotExist)
}
