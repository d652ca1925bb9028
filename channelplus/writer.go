package channelplus

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"chplus/storage"
)

// MaterialsSubdir is the course output subdirectory for material files.
const MaterialsSubdir = "course_materials"

// fileNameIllegal matches characters not allowed in file names on the
// strictest common filesystem.
var fileNameIllegal = regexp.MustCompile(`[<>:"/\\|?*]`)

// sanitizeFileName strips illegal characters and surrounding whitespace.
func sanitizeFileName(name string) string {
	name = fileNameIllegal.ReplaceAllString(name, "")
	return strings.TrimSpace(name)
}

// AudioFileName returns the target filename for an episode's audio. The
// site's own filename is used when present so re-runs line up with earlier
// downloads; otherwise a zero-padded name keeps shell listings sorted.
func AudioFileName(ep Episode) string {
	if name := sanitizeFileName(ep.Audio.Name); name != "" {
		return name
	}
	return fmt.Sprintf("%05d_%s.mp3", ep.Part, sanitizeFileName(ep.Name))
}

// MaterialFileName returns the target filename for a course material,
// prefixed with the episode number so files from different episodes never
// collide. Materials without an extension default to .pdf.
func MaterialFileName(att AttachmentInfo, episode int) string {
	name := sanitizeFileName(att.Name)
	if name == "" {
		name = att.Key
	}
	if filepath.Ext(name) == "" {
		name += ".pdf"
	}
	return fmt.Sprintf("Ep%02d_%s", episode, name)
}

// Writer persists downloaded files under a course output directory.
// Audio lands in the directory itself, materials in MaterialsSubdir.
// Existing files are overwritten unconditionally.
type Writer struct {
	dir string
}

// NewWriter creates a writer rooted at the course output directory.
func NewWriter(dir string) *Writer {
	return &Writer{dir: dir}
}

// Dir returns the course output directory.
func (w *Writer) Dir() string {
	return w.dir
}

// EnsureDirs creates the output directory and the materials subdirectory.
// It is idempotent and safe to call on every run.
func (w *Writer) EnsureDirs() error {
	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(w.dir, MaterialsSubdir), 0755); err != nil {
		return fmt.Errorf("create materials directory: %w", err)
	}
	return nil
}

// PathFor returns the final path an item will be written to.
func (w *Writer) PathFor(item DownloadItem) string {
	if item.Kind == KindMaterial {
		return filepath.Join(w.dir, MaterialsSubdir, item.FileName)
	}
	return filepath.Join(w.dir, item.FileName)
}

// Write stores the item's bytes at its final path. The write goes through
// a temp file and rename, so a crash mid-write never leaves a truncated
// file at the final name.
func (w *Writer) Write(item DownloadItem, data []byte) (int64, error) {
	path := w.PathFor(item)

	aw, err := storage.NewAtomicWriter(path)
	if err != nil {
		return 0, err
	}

	n, err := aw.Write(data)
	if err != nil {
		aw.Abort()
		return 0, fmt.Errorf("write %s: %w", item.FileName, err)
	}

	if err := aw.Commit(); err != nil {
		return 0, fmt.Errorf("commit %s: %w", item.FileName, err)
	}

	return int64(n), nil
}
