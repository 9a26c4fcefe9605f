package convert

import (
	"bytes"
	"fmt"
	"html"
	"os"
	"path/filepath"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	gmhtml "github.com/yuin/goldmark/renderer/html"
)

// md renders plain-text attachments. Raw HTML in the input is dropped and
// single newlines are kept as line breaks since mail text is hard-wrapped.
var md = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
	goldmark.WithParserOptions(parser.WithAutoHeadingID()),
	goldmark.WithRendererOptions(gmhtml.WithHardWraps()),
)

const htmlHead = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>%s</title>
</head>
<body>
`

const htmlTail = `</body>
</html>
`

// renderMarkdownFile reads src as markdown and writes a standalone HTML
// document to dst.
func renderMarkdownFile(src, dst string) error {
	source, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("reading %s: %w", src, err)
	}

	var doc bytes.Buffer
	fmt.Fprintf(&doc, htmlHead, html.EscapeString(filepath.Base(src)))
	if err := md.Convert(source, &doc); err != nil {
		return fmt.Errorf("rendering markdown: %w", err)
	}
	doc.WriteString(htmlTail)

	if err := os.WriteFile(dst, doc.Bytes(), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", dst, err)
	}
	return nil
}
