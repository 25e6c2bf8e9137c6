package storage

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/erp/exchange/internal/infrastructure/commerceml"
)

var (
	// ErrPathTraversal is returned for names escaping their directory
	ErrPathTraversal = errors.New("path escapes the exchange directory")

	// ErrFileTooLarge is returned when an upload or archive exceeds its limit
	ErrFileTooLarge = errors.New("file exceeds the exchange file limit")

	// ErrInvalidSessionID is returned for session ids unusable as a directory name
	ErrInvalidSessionID = errors.New("invalid exchange session id")
)

// FileKind is where an uploaded file was routed
type FileKind string

const (
	FileKindFeed    FileKind = "feed"
	FileKindImage   FileKind = "image"
	FileKindArchive FileKind = "archive"
	FileKindOther   FileKind = "other"
)

var imageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true, ".bmp": true,
}

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// Subdirs lists the directories of an import tree
var Subdirs = append(feedDirs(), commerceml.ImagesDir)

func feedDirs() []string {
	dirs := make([]string, 0, len(commerceml.Feeds))
	for _, f := range commerceml.Feeds {
		dirs = append(dirs, string(f))
	}
	return dirs
}

// IsArchive reports whether name is a zip archive
func IsArchive(name string) bool {
	return strings.EqualFold(path.Ext(name), ".zip")
}

// IsImage reports whether name has an image extension
func IsImage(name string) bool {
	return imageExtensions[strings.ToLower(path.Ext(name))]
}

// StoredFile describes one routed upload
type StoredFile struct {
	Path string
	Kind FileKind
	Feed commerceml.Feed
	Size int64
}

// Layout is the exchange file tree:
//
//	<root>/staging/<sessid>/   archives as uploaded
//	<root>/import/<sessid>/    routed feeds, import_files and root documents
//	<root>/logs/               export audit log
type Layout struct {
	root    string
	auditMu sync.Mutex
}

// NewLayout creates a layout rooted at root
func NewLayout(root string) *Layout {
	return &Layout{root: root}
}

// Root returns the layout root
func (l *Layout) Root() string {
	return l.root
}

// StagingDir returns the staging directory of a session
func (l *Layout) StagingDir(sessid string) (string, error) {
	if !sessionIDPattern.MatchString(sessid) {
		return "", ErrInvalidSessionID
	}
	return filepath.Join(l.root, "staging", sessid), nil
}

// ImportDir returns the import root of a session
func (l *Layout) ImportDir(sessid string) (string, error) {
	if !sessionIDPattern.MatchString(sessid) {
		return "", ErrInvalidSessionID
	}
	return filepath.Join(l.root, "import", sessid), nil
}

// AuditLogPath returns the order export audit log file
func (l *Layout) AuditLogPath() string {
	return filepath.Join(l.root, "logs", "orders_export.log")
}

// CleanRelative normalizes a name sent by 1C into a slash-separated relative
// path, rejecting absolute paths and parent references
func CleanRelative(name string) (string, error) {
	name = strings.ReplaceAll(strings.TrimSpace(name), "\\", "/")
	if name == "" {
		return "", fmt.Errorf("%w: empty name", ErrPathTraversal)
	}
	if strings.HasPrefix(name, "/") || (len(name) > 1 && name[1] == ':') {
		return "", fmt.Errorf("%w: %s", ErrPathTraversal, name)
	}
	for _, part := range strings.Split(name, "/") {
		if part == ".." {
			return "", fmt.Errorf("%w: %s", ErrPathTraversal, name)
		}
	}
	cleaned := path.Clean(name)
	if cleaned == "." {
		return "", fmt.Errorf("%w: %s", ErrPathTraversal, name)
	}
	return cleaned, nil
}

// Route decides where a file named by 1C is stored:
// feed documents go to <import>/<feed>/, images to <import>/import_files/
// keeping their sub-path, archives to the staging root and anything else to
// the import root.
func (l *Layout) Route(sessid, filename string) (StoredFile, error) {
	rel, err := CleanRelative(filename)
	if err != nil {
		return StoredFile{}, err
	}
	importDir, err := l.ImportDir(sessid)
	if err != nil {
		return StoredFile{}, err
	}
	base := path.Base(rel)

	if feed, ok := commerceml.FeedOf(base); ok {
		return StoredFile{Path: filepath.Join(importDir, string(feed), base), Kind: FileKindFeed, Feed: feed}, nil
	}
	if IsImage(base) {
		sub := strings.TrimPrefix(rel, commerceml.ImagesDir+"/")
		return StoredFile{Path: filepath.Join(importDir, commerceml.ImagesDir, filepath.FromSlash(sub)), Kind: FileKindImage}, nil
	}
	if IsArchive(base) {
		stagingDir, err := l.StagingDir(sessid)
		if err != nil {
			return StoredFile{}, err
		}
		return StoredFile{Path: filepath.Join(stagingDir, base), Kind: FileKindArchive}, nil
	}
	return StoredFile{Path: filepath.Join(importDir, base), Kind: FileKindOther}, nil
}

// Save routes and writes one upload. Bodies above limit are rejected and nothing is kept.
func (l *Layout) Save(sessid, filename string, body io.Reader, limit int64) (StoredFile, error) {
	file, err := l.Route(sessid, filename)
	if err != nil {
		return StoredFile{}, err
	}
	if err := writeFileAtomic(file.Path, body, limit); err != nil {
		return StoredFile{}, err
	}
	info, err := os.Stat(file.Path)
	if err != nil {
		return StoredFile{}, err
	}
	file.Size = info.Size()
	return file, nil
}

// ArchivePath returns the staged path of an uploaded archive
func (l *Layout) ArchivePath(sessid, archiveName string) (string, error) {
	rel, err := CleanRelative(archiveName)
	if err != nil {
		return "", err
	}
	stagingDir, err := l.StagingDir(sessid)
	if err != nil {
		return "", err
	}
	return filepath.Join(stagingDir, path.Base(rel)), nil
}

// Unpack extracts a staged archive into the session's import tree, routing
// every entry like an individual upload. maxTotal caps the uncompressed size.
func (l *Layout) Unpack(sessid, archiveName string, maxTotal int64) ([]StoredFile, error) {
	archivePath, err := l.ArchivePath(sessid, archiveName)
	if err != nil {
		return nil, err
	}
	zr, err := zip.OpenReader(archivePath)
	// entry names are checked by Route, so insecure names are not fatal here
	if err != nil && !(errors.Is(err, zip.ErrInsecurePath) && zr != nil) {
		return nil, fmt.Errorf("failed to open archive %s: %w", archiveName, err)
	}
	defer zr.Close()

	entryLimit := maxTotal
	if entryLimit <= 0 {
		entryLimit = -1
	}
	var total int64
	var files []StoredFile
	for _, entry := range zr.File {
		if entry.FileInfo().IsDir() || IsArchive(entry.Name) {
			continue
		}
		total += int64(entry.UncompressedSize64)
		if maxTotal > 0 && total > maxTotal {
			return files, fmt.Errorf("%w: archive %s", ErrFileTooLarge, archiveName)
		}
		file, err := l.extract(sessid, entry, entryLimit)
		if err != nil {
			return files, err
		}
		files = append(files, file)
	}
	return files, nil
}

func (l *Layout) extract(sessid string, entry *zip.File, limit int64) (StoredFile, error) {
	file, err := l.Route(sessid, entry.Name)
	if err != nil {
		return StoredFile{}, err
	}
	rc, err := entry.Open()
	if err != nil {
		return StoredFile{}, fmt.Errorf("failed to read archive entry %s: %w", entry.Name, err)
	}
	defer rc.Close()
	if err := writeFileAtomic(file.Path, rc, limit); err != nil {
		return StoredFile{}, err
	}
	file.Size = int64(entry.UncompressedSize64)
	return file, nil
}

// CreateSpool creates a temporary file under <root>/spool. The caller closes
// and removes it.
func (l *Layout) CreateSpool(pattern string) (*os.File, error) {
	dir := filepath.Join(l.root, "spool")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return os.CreateTemp(dir, pattern)
}

// EnsureImportDir creates the import root of a session
func (l *Layout) EnsureImportDir(sessid string) (string, error) {
	dir, err := l.ImportDir(sessid)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

// AppendAudit appends one timestamped line to the export audit log
func (l *Layout) AppendAudit(line string) error {
	l.auditMu.Lock()
	defer l.auditMu.Unlock()

	logPath := l.AuditLogPath()
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(f, "%s %s\n", time.Now().UTC().Format(time.RFC3339), line); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// writeFileAtomic writes body to a temp file next to dst and renames it.
// limit < 0 disables the size check.
func writeFileAtomic(dst string, body io.Reader, limit int64) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	src := body
	if limit >= 0 {
		src = io.LimitReader(body, limit+1)
	}
	n, err := io.Copy(tmp, src)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(dst), err)
	}
	if limit >= 0 && n > limit {
		return fmt.Errorf("%w: %s", ErrFileTooLarge, filepath.Base(dst))
	}
	return os.Rename(tmpName, dst)
}
