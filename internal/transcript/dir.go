package transcript

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hyperjump/callscope/internal/models"
)

// DefaultExtensions are the call-log extensions read when none are configured.
var DefaultExtensions = []string{".txt"}

// LoadDir walks dir recursively and parses every regular file whose extension is in
// exts (DefaultExtensions when empty). Records are returned sorted by id.
func LoadDir(dir string, exts []string) ([]models.Transcript, error) {
	if len(exts) == 0 {
		exts = DefaultExtensions
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(absDir)
	if err != nil {
		return nil, fmt.Errorf("stat directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", absDir)
	}
	var out []models.Transcript
	err = filepath.WalkDir(absDir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || !ExtensionAllowed(filepath.Ext(path), exts) {
			return nil
		}
		// Resolve symlinks so only regular files are read
		finfo, statErr := os.Stat(path)
		if statErr != nil || !finfo.Mode().IsRegular() {
			return nil
		}
		t, err := ParseFile(path)
		if err != nil {
			return err
		}
		out = append(out, *t)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ExtensionAllowed reports whether ext is in allowed, ignoring case and the leading dot.
func ExtensionAllowed(ext string, allowed []string) bool {
	extNorm := strings.ToLower(strings.TrimPrefix(ext, "."))
	for _, a := range allowed {
		if strings.ToLower(strings.TrimPrefix(a, ".")) == extNorm {
			return true
		}
	}
	return false
}
