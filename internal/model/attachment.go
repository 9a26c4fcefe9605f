package model

import (
	"path/filepath"
	"strings"

	"github.com/nhle/mailprint/internal/digest"
)

// Attachment is one eligible MIME part after decoding.
type Attachment struct {
	// MessageID identifies the message the part came from.
	MessageID string `json:"message_id"`

	// Filename is the name given in the message, unmodified.
	Filename string `json:"filename"`

	// Ext is the lower-cased extension including the dot. It drives
	// strategy selection.
	Ext string `json:"ext"`

	// Data is the decoded payload.
	Data []byte `json:"-"`

	// Digest is the content address of Data.
	Digest string `json:"digest"`

	// StoredPath is <folder>/<base>-<digest><ext>.
	StoredPath string `json:"stored_path"`
}

// NewAttachment derives the digest and stored path for a decoded part. An
// empty ext falls back to the filename's own extension.
func NewAttachment(messageID, filename, ext string, data []byte, folder string) Attachment {
	if ext == "" {
		ext = filepath.Ext(filename)
	}
	ext = strings.ToLower(ext)
	sum := digest.Sum(data)

	return Attachment{
		MessageID:  messageID,
		Filename:   filename,
		Ext:        ext,
		Data:       data,
		Digest:     sum,
		StoredPath: filepath.Join(folder, digest.StoredName(filename, sum, ext)),
	}
}

// Size returns the payload length in bytes.
func (a Attachment) Size() int {
	return len(a.Data)
}
