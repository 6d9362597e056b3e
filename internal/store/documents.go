package store

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
)

// AllTitlesDir holds title-level outputs that belong to no agency
const AllTitlesDir = "AllTitles"

var unsafeChars = regexp.MustCompile(`[^0-9A-Za-z]`)

// SanitizeChapter maps a chapter code to a filename-safe form, e.g. "I-A" -> "I_A"
func SanitizeChapter(code string) string {
	return unsafeChars.ReplaceAllString(code, "_")
}

// TitleDirName returns the per-agency title directory, e.g. "Title-07"
func TitleDirName(title int) string {
	return fmt.Sprintf("Title-%02d", title)
}

// Documents writes fetched documents under a root directory. Writes are
// atomic so an interrupted run never leaves a truncated file behind and a
// rerun produces byte-identical output.
type Documents struct {
	root string
}

// NewDocuments creates a document store rooted at dir
func NewDocuments(dir string) *Documents {
	return &Documents{root: dir}
}

// Root returns the output directory
func (d *Documents) Root() string {
	return d.root
}

// ChapterPath returns {root}/{agencyDir}/Title-NN/chapter-{code}.xml
func (d *Documents) ChapterPath(agencyDir string, title int, code string) string {
	return filepath.Join(d.root, agencyDir, TitleDirName(title), "chapter-"+SanitizeChapter(code)+".xml")
}

// TitleDir returns {root}/AllTitles/title-N
func (d *Documents) TitleDir(title int) string {
	return filepath.Join(d.root, AllTitlesDir, "title-"+strconv.Itoa(title))
}

// TitlePath returns {root}/AllTitles/title-N/title-N.xml
func (d *Documents) TitlePath(title int) string {
	return filepath.Join(d.TitleDir(title), fmt.Sprintf("title-%d.xml", title))
}

// PutChapter stores one chapter document and returns its path
func (d *Documents) PutChapter(agencyDir string, title int, code string, body []byte) (string, error) {
	if agencyDir == "" {
		return "", fmt.Errorf("store chapter %s of title %d: empty agency directory", code, title)
	}
	path := d.ChapterPath(agencyDir, title, code)
	if err := WriteFileAtomic(path, body); err != nil {
		return "", fmt.Errorf("store chapter %s of title %d: %w", code, title, err)
	}
	return path, nil
}

// PutTitle stores a full title document and returns its path
func (d *Documents) PutTitle(title int, body []byte) (string, error) {
	path := d.TitlePath(title)
	if err := WriteFileAtomic(path, body); err != nil {
		return "", fmt.Errorf("store title %d: %w", title, err)
	}
	return path, nil
}

// WriteFileAtomic writes data to a temp file in path's directory and renames
// it into place.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}
