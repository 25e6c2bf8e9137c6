package migration

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"unicode"
)

// File is one numbered migration: NNNNNN_name.up.sql plus its .down.sql
type File struct {
	Version uint
	Name    string
	HasDown bool
}

// Base returns the file name without the direction suffix
func (f File) Base() string {
	return fmt.Sprintf("%06d_%s", f.Version, f.Name)
}

// List reads the migrations of fsys ordered by version. Files that do not
// follow the naming scheme are ignored; an up file without a down file is not.
func List(fsys fs.FS) ([]File, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations: %w", err)
	}

	byVersion := make(map[uint]*File)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		version, name, down, ok := parseFileName(entry.Name())
		if !ok {
			continue
		}
		f, exists := byVersion[version]
		if !exists {
			f = &File{Version: version, Name: name}
			byVersion[version] = f
		}
		if down {
			f.HasDown = true
		}
	}

	files := make([]File, 0, len(byVersion))
	for _, f := range byVersion {
		files = append(files, *f)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Version < files[j].Version })
	return files, nil
}

func parseFileName(fileName string) (version uint, name string, down bool, ok bool) {
	var base string
	switch {
	case strings.HasSuffix(fileName, ".up.sql"):
		base = strings.TrimSuffix(fileName, ".up.sql")
	case strings.HasSuffix(fileName, ".down.sql"):
		base = strings.TrimSuffix(fileName, ".down.sql")
		down = true
	default:
		return 0, "", false, false
	}
	num, name, found := strings.Cut(base, "_")
	if !found || name == "" {
		return 0, "", false, false
	}
	v, err := strconv.ParseUint(num, 10, 32)
	if err != nil {
		return 0, "", false, false
	}
	return uint(v), name, down, true
}

// Create writes an empty up/down pair numbered after the newest migration in dir
func Create(dir, name string) (*File, error) {
	clean := sanitizeName(name)
	if clean == "" {
		return nil, fmt.Errorf("migration name %q has no usable characters", name)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create migrations directory: %w", err)
	}

	existing, err := List(os.DirFS(dir))
	if err != nil {
		return nil, err
	}
	f := &File{Version: 1, Name: clean, HasDown: true}
	if n := len(existing); n > 0 {
		f.Version = existing[n-1].Version + 1
	}

	upPath := filepath.Join(dir, f.Base()+".up.sql")
	downPath := filepath.Join(dir, f.Base()+".down.sql")
	if err := os.WriteFile(upPath, []byte("-- "+name+"\n"), 0o644); err != nil {
		return nil, fmt.Errorf("failed to create up migration: %w", err)
	}
	if err := os.WriteFile(downPath, []byte("-- rollback "+name+"\n"), 0o644); err != nil {
		_ = os.Remove(upPath)
		return nil, fmt.Errorf("failed to create down migration: %w", err)
	}
	return f, nil
}

// sanitizeName lowercases name and joins its words with single underscores
func sanitizeName(name string) string {
	words := strings.FieldsFunc(name, func(r rune) bool {
		return r == ' ' || r == '-' || r == '_'
	})
	parts := make([]string, 0, len(words))
	for _, w := range words {
		var b strings.Builder
		for _, r := range w {
			if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
				b.WriteRune(unicode.ToLower(r))
			}
		}
		if b.Len() > 0 {
			parts = append(parts, b.String())
		}
	}
	return strings.Join(parts, "_")
}
