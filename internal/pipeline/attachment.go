package pipeline

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/nhle/mailprint/internal/model"
	"github.com/nhle/mailprint/internal/source"
)

// eligible selects leaf parts that carry a disposition or are generic
// binary payloads.
func eligible(part source.Part) bool {
	if part.ContentMaintype() == "multipart" {
		return false
	}
	return part.ContentDisposition() != "" ||
		part.ContentType() == "application/octet-stream"
}

// extension returns the lower-cased suffix of filename including the dot.
func extension(filename string) string {
	if i := strings.LastIndexAny(filename, `/\`); i >= 0 {
		filename = filename[i+1:]
	}
	return strings.ToLower(filepath.Ext(filename))
}

// inferExtension guesses an extension from the payload for attachments
// whose filename has none. It returns "" when the content is not
// recognised.
func inferExtension(data []byte) string {
	mtype := mimetype.Detect(data)
	for m := mtype; m != nil; m = m.Parent() {
		if ext := m.Extension(); ext != "" {
			return ext
		}
	}
	return ""
}

// persist writes the attachment to its stored path unless a file is
// already there. Identical content always maps to the same path, so an
// existing file holds the same bytes. It reports whether it wrote.
func persist(att model.Attachment) (bool, error) {
	_, err := os.Stat(att.StoredPath)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return false, fmt.Errorf("checking %s: %w", att.StoredPath, err)
	}

	tmp := att.StoredPath + ".tmp"
	if err := os.WriteFile(tmp, att.Data, 0o644); err != nil {
		_ = os.Remove(tmp)
		return false, fmt.Errorf("writing %s: %w", att.StoredPath, err)
	}
	if err := os.Rename(tmp, att.StoredPath); err != nil {
		_ = os.Remove(tmp)
		return false, fmt.Errorf("writing %s: %w", att.StoredPath, err)
	}
	return true, nil
}
