package email

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	gomessage "github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
)

// parseMessage parses a raw message and flattens its MIME tree
// depth-first. A walk error after the top-level header was read returns
// the parts collected so far together with the error.
func parseMessage(id string, raw []byte) (*Message, error) {
	entity, err := gomessage.Read(bytes.NewReader(raw))
	if err != nil && !tolerable(err) {
		return nil, fmt.Errorf("parsing message %s: %w", id, err)
	}

	header := mail.Header{Header: entity.Header}
	msg := &Message{id: id}

	if subject, err := header.Subject(); err == nil {
		msg.subject = subject
	} else {
		msg.subject = header.Get("Subject")
	}
	if from, err := header.AddressList("From"); err == nil && len(from) > 0 {
		msg.from = from[0].Address
	}

	err = entity.Walk(func(_ []int, e *gomessage.Entity, err error) error {
		if err != nil && (e == nil || !tolerable(err)) {
			return err
		}
		msg.parts = append(msg.parts, newPart(e))
		return nil
	})
	if err != nil {
		return msg, fmt.Errorf("walking parts of message %s: %w", id, err)
	}

	return msg, nil
}

// tolerable reports errors that still leave a usable entity behind.
func tolerable(err error) bool {
	return gomessage.IsUnknownCharset(err) || gomessage.IsUnknownEncoding(err)
}

func newPart(e *gomessage.Entity) *Part {
	p := &Part{contentType: "text/plain"}

	if ct, _, err := e.Header.ContentType(); err == nil && ct != "" {
		p.contentType = strings.ToLower(ct)
	}
	p.maintype, _, _ = strings.Cut(p.contentType, "/")

	if e.Header.Get("Content-Disposition") != "" {
		if disp, _, err := e.Header.ContentDisposition(); err == nil {
			p.disposition = strings.ToLower(disp)
		} else {
			p.disposition = "unparsed"
		}
	}

	ah := mail.AttachmentHeader{Header: e.Header}
	if name, err := ah.Filename(); err == nil {
		p.filename = name
	}

	// Reading a container would consume the children Walk is about to visit.
	if p.maintype != "multipart" {
		p.data, p.readErr = io.ReadAll(e.Body)
	}

	return p
}
