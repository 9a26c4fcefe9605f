package email

import "github.com/nhle/mailprint/internal/source"

// Message is a parsed mail message.
type Message struct {
	id      string
	subject string
	from    string
	parts   []source.Part
}

var _ source.Message = (*Message)(nil)

func (m *Message) ID() string { return m.id }
func (m *Message) Subject() string { return m.subject }
func (m *Message) From() string { return m.from }
func (m *Message) Parts() []source.Part { return m.parts }

// Part is one MIME entity of a Message. Leaf payloads are read eagerly
// while the tree is walked; multipart containers carry no payload.
type Part struct {
	maintype    string
	contentType string
	disposition string
	filename    string
	data        []byte
	readErr     error
}

var _ source.Part = (*Part)(nil)

func (p *Part) ContentMaintype() string { return p.maintype }
func (p *Part) ContentType() string { return p.contentType }
func (p *Part) ContentDisposition() string { return p.disposition }
func (p *Part) Filename() string { return p.filename }

// Decoded returns the payload with its transfer encoding removed.
func (p *Part) Decoded() ([]byte, error) {
	return p.data, p.readErr
}
