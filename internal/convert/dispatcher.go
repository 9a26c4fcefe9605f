// Package convert turns stored attachments into PDF files using external
// converters selected by file extension.
package convert

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nhle/mailprint/internal/supervise"
)

// Tool describes one external converter binary and its time budget.
type Tool struct {
	Binary  string
	Timeout time.Duration
}

// Config holds the converter binaries and limits used by a Dispatcher.
type Config struct {
	Office   Tool
	Image    Tool
	Document Tool

	// PDFEngine is handed to the document converter as --pdf-engine when
	// set (e.g. "weasyprint", "xelatex").
	PDFEngine string

	// MaxImagePixels bounds width*height accepted by the image preflight.
	// Zero disables the check.
	MaxImagePixels int64
}

// DefaultConfig returns converter settings for a stock Linux host.
func DefaultConfig() Config {
	return Config{
		Office:         Tool{Binary: "soffice", Timeout: 25 * time.Second},
		Image:          Tool{Binary: "convert", Timeout: 25 * time.Second},
		Document:       Tool{Binary: "pandoc", Timeout: 120 * time.Second},
		MaxImagePixels: 100_000_000,
	}
}

// Executor runs an external command under a time budget.
// *supervise.Supervisor satisfies it.
type Executor interface {
	Execute(ctx context.Context, argv []string, timeout time.Duration) (supervise.Result, error)
}

// Request is a planned conversion of one stored attachment.
type Request struct {
	Strategy Strategy

	// Input is the stored raw attachment.
	Input string

	// Ext is the lower-cased attachment extension.
	Ext string

	// Folder is the download folder both Input and Output live in.
	Folder string

	// Output is where the PDF is expected: <folder>/<base>-<digest>.pdf.
	Output string

	// Format is an optional input-format hint (see FormatMarkdown).
	Format string
}

// Dispatcher classifies attachments and runs the matching converter.
type Dispatcher struct {
	cfg   Config
	table *Table
	exec  Executor
	log   *zap.Logger
}

// New creates a Dispatcher.
func New(cfg Config, table *Table, exec Executor, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{cfg: cfg, table: table, exec: exec, log: log}
}

// Plan builds the conversion request for a stored attachment without
// running anything.
func (d *Dispatcher) Plan(storedPath, ext, folder string) Request {
	ext = normalizeExt(ext)
	stem := strings.TrimSuffix(filepath.Base(storedPath), filepath.Ext(storedPath))

	return Request{
		Strategy: d.table.Classify(ext),
		Input:    storedPath,
		Ext:      ext,
		Folder:   folder,
		Output:   filepath.Join(folder, stem+".pdf"),
		Format:   d.table.FormatHint(ext),
	}
}

// Convert produces a PDF next to storedPath and returns its path.
//
// On success the raw attachment is removed. On failure the raw attachment,
// any partial output and every *.tmp file in folder are removed and the
// returned error is an *Error. Printable extensions are returned unchanged.
func (d *Dispatcher) Convert(
	ctx context.Context,
	storedPath, ext, folder string,
) (string, error) {
	if d.table.IsPrintable(ext) {
		return storedPath, nil
	}

	req := d.Plan(storedPath, ext, folder)

	var err error
	switch req.Strategy {
	case StrategyOffice:
		err = d.convertOffice(ctx, req)
	case StrategyImage:
		err = d.convertImage(ctx, req)
	default:
		err = d.convertDocument(ctx, req)
	}
	if err == nil {
		err = checkOutput(req)
	}

	if err != nil {
		d.log.Warn("conversion failed",
			zap.String("strategy", string(req.Strategy)),
			zap.String("input", req.Input),
			zap.String("kind", string(KindOf(err))),
			zap.Error(err),
		)
		d.cleanup(req)
		return "", err
	}

	d.remove(req.Input)
	d.log.Info("converted attachment",
		zap.String("strategy", string(req.Strategy)),
		zap.String("output", req.Output),
	)
	return req.Output, nil
}

// convertOffice runs: soffice --headless --convert-to pdf --outdir <folder> <input>
func (d *Dispatcher) convertOffice(ctx context.Context, req Request) error {
	argv := []string{
		d.cfg.Office.Binary,
		"--headless",
		"--convert-to", "pdf",
		"--outdir", req.Folder,
		req.Input,
	}
	return d.run(ctx, req, d.cfg.Office, argv)
}

// convertImage runs: convert <input> <output>
func (d *Dispatcher) convertImage(ctx context.Context, req Request) error {
	if err := preflightImage(req.Input, d.cfg.MaxImagePixels); err != nil {
		return &Error{Kind: KindRejected, Strategy: req.Strategy, Input: req.Input, Err: err}
	}
	argv := []string{d.cfg.Image.Binary, req.Input, req.Output}
	return d.run(ctx, req, d.cfg.Image, argv)
}

// convertDocument runs the universal converter. Markdown-hinted input is
// rendered to an intermediate HTML file first so its structure survives.
func (d *Dispatcher) convertDocument(ctx context.Context, req Request) error {
	input := req.Input
	from := ""

	if req.Format == FormatMarkdown {
		rendered := strings.TrimSuffix(req.Output, ".pdf") + ".html.tmp"
		defer d.remove(rendered)

		if err := renderMarkdownFile(req.Input, rendered); err != nil {
			return &Error{Kind: KindRejected, Strategy: req.Strategy, Input: req.Input, Err: err}
		}
		input = rendered
		from = "html"
	}

	argv := []string{d.cfg.Document.Binary}
	if from != "" {
		argv = append(argv, "--from", from)
	}
	argv = append(argv, "--output", req.Output)
	if d.cfg.PDFEngine != "" {
		argv = append(argv, "--pdf-engine="+d.cfg.PDFEngine)
	}
	argv = append(argv, input)

	return d.run(ctx, req, d.cfg.Document, argv)
}

// run executes argv and maps the outcome to an *Error.
func (d *Dispatcher) run(ctx context.Context, req Request, tool Tool, argv []string) error {
	res, err := d.exec.Execute(ctx, argv, tool.Timeout)
	if err != nil {
		return &Error{Kind: KindLaunch, Strategy: req.Strategy, Input: req.Input, Err: err}
	}
	if res.TimedOut() {
		return &Error{
			Kind:     KindTimeout,
			Strategy: req.Strategy,
			Input:    req.Input,
			Detail:   fmt.Sprintf("%s exceeded %s", tool.Binary, tool.Timeout),
		}
	}
	if res.ExitCode != 0 {
		detail := fmt.Sprintf("%s exited with code %d", tool.Binary, res.ExitCode)
		if res.Stderr != "" {
			detail += " (" + res.Stderr + ")"
		}
		return &Error{Kind: KindTool, Strategy: req.Strategy, Input: req.Input, Detail: detail}
	}
	return nil
}

// checkOutput catches converters that exit 0 without writing anything.
func checkOutput(req Request) error {
	info, err := os.Stat(req.Output)
	if err != nil {
		return &Error{Kind: KindOutputMissing, Strategy: req.Strategy, Input: req.Input, Detail: req.Output}
	}
	if info.IsDir() {
		return &Error{Kind: KindOutputMissing, Strategy: req.Strategy, Input: req.Input, Detail: req.Output + " is a directory"}
	}
	return nil
}

// cleanup removes everything a failed conversion may have left behind.
func (d *Dispatcher) cleanup(req Request) {
	d.remove(req.Input)
	d.remove(req.Output)

	entries, err := os.ReadDir(req.Folder)
	if err != nil {
		d.log.Debug("listing download folder for cleanup", zap.Error(err))
		return
	}
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".tmp") {
			d.remove(filepath.Join(req.Folder, e.Name()))
		}
	}
}

// remove deletes path, ignoring files that are already gone.
func (d *Dispatcher) remove(path string) {
	err := os.Remove(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		d.log.Debug("cleanup", zap.String("path", path), zap.Error(err))
	}
}
