// Package digest names attachments by their content.
package digest

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"strings"
)

// Length is the number of hex characters of the sha256 sum kept in stored
// file names.
const Length = 10

// fallbackBase is used when a filename has nothing left once its extension
// and directories are stripped.
const fallbackBase = "attachment"

// Sum returns the truncated hex sha256 of data.
func Sum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:Length]
}

// StoredName returns "<base>-<digest><ext>" where base is filename without
// any directory part or extension. ext is appended verbatim and should
// include its leading dot.
func StoredName(filename, digest, ext string) string {
	return Base(filename) + "-" + digest + ext
}

// Base strips directories (either separator style) and the extension from
// filename so the result is safe to join onto the download folder.
func Base(filename string) string {
	if i := strings.LastIndexAny(filename, `/\`); i >= 0 {
		filename = filename[i+1:]
	}
	base := strings.TrimSuffix(filename, filepath.Ext(filename))
	base = strings.TrimSpace(base)
	if base == "" || base == "." || base == ".." {
		return fallbackBase
	}
	return base
}
