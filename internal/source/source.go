// Package source defines the mailbox contract the attachment pipeline
// consumes.
package source

import (
	"context"
	"errors"
	"fmt"
)

// ConnectionError indicates that the mailbox could not be reached or
// rejected the credentials. It aborts the run.
type ConnectionError struct {
	Addr    string
	Message string
	Err     error
}

func (e *ConnectionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("connection error (%s): %s: %v", e.Addr, e.Message, e.Err)
	}
	return fmt.Sprintf("connection error (%s): %s", e.Addr, e.Message)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// IsConnectionError reports whether err (or any error in its chain) is a
// ConnectionError.
func IsConnectionError(err error) bool {
	var connErr *ConnectionError
	return errors.As(err, &connErr)
}

// FetchError indicates that a single message could not be downloaded. The
// message is skipped and the run continues.
type FetchError struct {
	MessageID string
	Err       error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetching message %s: %v", e.MessageID, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// IsFetchError reports whether err (or any error in its chain) is a
// FetchError.
func IsFetchError(err error) bool {
	var fetchErr *FetchError
	return errors.As(err, &fetchErr)
}

// Part is one node of a message's MIME tree.
type Part interface {
	// ContentMaintype is the major type, e.g. "multipart" or "application".
	ContentMaintype() string

	// ContentType is the full lower-cased media type, e.g. "application/pdf".
	ContentType() string

	// ContentDisposition is the disposition value ("attachment", "inline")
	// or "" when the header is absent.
	ContentDisposition() string

	// Filename is the decoded attachment filename, or "".
	Filename() string

	// Decoded returns the payload with its transfer encoding removed.
	Decoded() ([]byte, error)
}

// Message is a downloaded mail message.
type Message interface {
	ID() string
	Subject() string
	From() string

	// Parts lists every MIME part depth-first, the root included.
	Parts() []Part
}

// Mailbox retrieves unread messages. Messages returned by FetchUnread are
// marked as read on the server.
type Mailbox interface {
	FetchUnread(ctx context.Context) ([]Message, error)
	Close() error
}
