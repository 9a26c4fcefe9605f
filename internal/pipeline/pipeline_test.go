package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nhle/mailprint/internal/convert"
	"github.com/nhle/mailprint/internal/digest"
	"github.com/nhle/mailprint/internal/model"
	"github.com/nhle/mailprint/internal/source"
	"github.com/nhle/mailprint/internal/supervise"
)

type fakePart struct {
	contentType string
	disposition string
	filename    string
	data        []byte
	err         error
}

func (p fakePart) ContentMaintype() string {
	maintype, _, _ := strings.Cut(p.contentType, "/")
	return maintype
}
func (p fakePart) ContentType() string { return p.contentType }
func (p fakePart) ContentDisposition() string { return p.disposition }
func (p fakePart) Filename() string { return p.filename }
func (p fakePart) Decoded() ([]byte, error) { return p.data, p.err }

type fakeMessage struct {
	id    string
	parts []source.Part
}

func (m fakeMessage) ID() string { return m.id }
func (m fakeMessage) Subject() string { return "subject" }
func (m fakeMessage) From() string { return "sender@example.com" }
func (m fakeMessage) Parts() []source.Part { return m.parts }

func message(parts ...source.Part) fakeMessage {
	return fakeMessage{id: "42", parts: append([]source.Part{
		fakePart{contentType: "multipart/mixed"},
		fakePart{contentType: "text/plain", data: []byte("see attached")},
	}, parts...)}
}

func attachment(filename, contentType, body string) fakePart {
	return fakePart{
		contentType: contentType,
		disposition: "attachment",
		filename:    filename,
		data:        []byte(body),
	}
}

// stubConverter writes a PDF next to the input unless err is set.
type stubConverter struct {
	calls []string
	err   error
}

func (s *stubConverter) Convert(_ context.Context, storedPath, ext, folder string) (string, error) {
	s.calls = append(s.calls, filepath.Base(storedPath))
	if s.err != nil {
		_ = os.Remove(storedPath)
		return "", s.err
	}
	out := strings.TrimSuffix(storedPath, ext) + ".pdf"
	if err := os.WriteFile(out, []byte("%PDF"), 0o644); err != nil {
		return "", err
	}
	_ = os.Remove(storedPath)
	return out, nil
}

type recorder struct {
	outcomes []Outcome
}

func (r *recorder) Record(_ context.Context, o Outcome) {
	r.outcomes = append(r.outcomes, o)
}

func newTestPipeline(t *testing.T, conv Converter) (*Pipeline, *recorder) {
	t.Helper()
	table, err := convert.DefaultTable()
	require.NoError(t, err)
	rec := &recorder{}
	return New(table, conv, rec, zap.NewNop()), rec
}

func collect(seq func(func(string) bool)) []string {
	var out []string
	for path := range seq {
		out = append(out, path)
	}
	return out
}

func TestExtractAndConvert_ConvertsAndPassesThrough(t *testing.T) {
	dir := t.TempDir()
	conv := &stubConverter{}
	p, rec := newTestPipeline(t, conv)

	msg := message(
		attachment("report.pdf", "application/pdf", "%PDF-report"),
		attachment("budget.xlsx", "application/vnd.ms-excel", "PK budget"),
	)

	paths := collect(p.ExtractAndConvert(context.Background(), msg, dir))

	pdfDigest := digest.Sum([]byte("%PDF-report"))
	xlsxDigest := digest.Sum([]byte("PK budget"))
	assert.Equal(t, []string{
		filepath.Join(dir, "report-"+pdfDigest+".pdf"),
		filepath.Join(dir, "budget-"+xlsxDigest+".pdf"),
	}, paths)

	assert.Equal(t, []string{"budget-" + xlsxDigest + ".xlsx"}, conv.calls)

	require.Len(t, rec.outcomes, 2)
	assert.Equal(t, model.OutcomePassThrough, rec.outcomes[0].Status)
	assert.Empty(t, rec.outcomes[0].Strategy)
	assert.Equal(t, model.OutcomeConverted, rec.outcomes[1].Status)
	assert.Equal(t, convert.StrategyOffice, rec.outcomes[1].Strategy)
	assert.Equal(t, xlsxDigest, rec.outcomes[1].Digest)
	assert.True(t, rec.outcomes[1].Printable())
}

func TestExtractAndConvert_ExcludesSignatures(t *testing.T) {
	dir := t.TempDir()
	conv := &stubConverter{}
	p, rec := newTestPipeline(t, conv)

	msg := message(
		attachment("doc.pdf.asc", "application/pgp-signature", "sig"),
		attachment("file.SIG", "application/octet-stream", "sig"),
		fakePart{contentType: "application/octet-stream", filename: "key.gpg", data: []byte("k")},
	)

	paths := collect(p.ExtractAndConvert(context.Background(), msg, dir))
	assert.Empty(t, paths)
	assert.Empty(t, conv.calls)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)

	require.Len(t, rec.outcomes, 3)
	for _, o := range rec.outcomes {
		assert.Equal(t, model.OutcomeSkipped, o.Status)
		assert.True(t, errors.Is(o.Err, ErrExcluded))
	}
}

func TestExtractAndConvert_Eligibility(t *testing.T) {
	dir := t.TempDir()
	p, rec := newTestPipeline(t, &stubConverter{})

	msg := message(
		// No disposition and not octet-stream: body part, ignored.
		fakePart{contentType: "application/pdf", filename: "hidden.pdf", data: []byte("%PDF")},
		// Octet-stream without disposition is eligible.
		fakePart{contentType: "application/octet-stream", filename: "raw.ps", data: []byte("%!PS")},
		// Eligible but unnamed.
		fakePart{contentType: "image/png", disposition: "inline", data: []byte("png")},
	)

	paths := collect(p.ExtractAndConvert(context.Background(), msg, dir))

	require.Len(t, paths, 1)
	assert.Equal(t, filepath.Join(dir, "raw-"+digest.Sum([]byte("%!PS"))+".ps"), paths[0])
	require.Len(t, rec.outcomes, 1)
}

func TestExtractAndConvert_IdempotentPersistence(t *testing.T) {
	dir := t.TempDir()
	p, _ := newTestPipeline(t, &stubConverter{})

	msg := message(
		attachment("a.pdf", "application/pdf", "same bytes"),
		attachment("a.pdf", "application/pdf", "same bytes"),
	)

	paths := collect(p.ExtractAndConvert(context.Background(), msg, dir))
	require.Len(t, paths, 2)
	assert.Equal(t, paths[0], paths[1])

	require.NoError(t, os.WriteFile(paths[0], []byte("left alone"), 0o644))
	again := collect(p.ExtractAndConvert(context.Background(), msg, dir))
	assert.Equal(t, paths, again)

	data, err := os.ReadFile(paths[0])
	require.NoError(t, err)
	assert.Equal(t, "left alone", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestExtractAndConvert_RawExistsStillConverts(t *testing.T) {
	dir := t.TempDir()
	conv := &stubConverter{}
	p, _ := newTestPipeline(t, conv)

	body := "PK sheet"
	stored := filepath.Join(dir, "sheet-"+digest.Sum([]byte(body))+".ods")
	require.NoError(t, os.WriteFile(stored, []byte(body), 0o644))

	paths := collect(p.ExtractAndConvert(context.Background(),
		message(attachment("sheet.ods", "application/octet-stream", body)), dir))

	require.Len(t, paths, 1)
	assert.Len(t, conv.calls, 1)
}

func TestExtractAndConvert_FailureIsDropped(t *testing.T) {
	dir := t.TempDir()
	convErr := &convert.Error{Kind: convert.KindTool, Strategy: convert.StrategyOffice, Detail: "exit 1"}
	p, rec := newTestPipeline(t, &stubConverter{err: convErr})

	msg := message(
		attachment("broken.xlsx", "application/octet-stream", "junk"),
		attachment("ok.pdf", "application/pdf", "%PDF"),
	)

	paths := collect(p.ExtractAndConvert(context.Background(), msg, dir))
	require.Len(t, paths, 1)
	assert.True(t, strings.HasSuffix(paths[0], ".pdf"))
	assert.Contains(t, paths[0], "ok-")

	require.Len(t, rec.outcomes, 2)
	assert.Equal(t, model.OutcomeFailed, rec.outcomes[0].Status)
	assert.True(t, errors.Is(rec.outcomes[0].Err, convert.ErrToolFailed))
	assert.False(t, rec.outcomes[0].Printable())
}

func TestExtractAndConvert_DecodeFailure(t *testing.T) {
	p, rec := newTestPipeline(t, &stubConverter{})

	msg := message(fakePart{
		contentType: "application/pdf",
		disposition: "attachment",
		filename:    "x.pdf",
		err:         errors.New("illegal base64 data"),
	})

	paths := collect(p.ExtractAndConvert(context.Background(), msg, t.TempDir()))
	assert.Empty(t, paths)
	require.Len(t, rec.outcomes, 1)
	assert.Equal(t, model.OutcomeFailed, rec.outcomes[0].Status)
}

func TestExtractAndConvert_InfersMissingExtension(t *testing.T) {
	dir := t.TempDir()
	conv := &stubConverter{}
	p, _ := newTestPipeline(t, conv)

	body := "%PDF-1.4\n1 0 obj\n<<>>\nendobj\n"
	paths := collect(p.ExtractAndConvert(context.Background(),
		message(attachment("scan", "application/octet-stream", body)), dir))

	require.Len(t, paths, 1)
	assert.Equal(t, filepath.Join(dir, "scan-"+digest.Sum([]byte(body))+".pdf"), paths[0])
	assert.Empty(t, conv.calls)
}

func TestExtractAndConvert_LazyAndSingleUse(t *testing.T) {
	dir := t.TempDir()
	conv := &stubConverter{}
	p, _ := newTestPipeline(t, conv)

	msg := message(
		attachment("one.doc", "application/msword", "1"),
		attachment("two.doc", "application/msword", "2"),
	)

	seq := p.ExtractAndConvert(context.Background(), msg, dir)
	assert.Empty(t, conv.calls)

	for range seq {
		break
	}
	assert.Len(t, conv.calls, 1)

	assert.Empty(t, collect(seq))
	assert.Len(t, conv.calls, 1)
}

func TestExtractAndConvert_StopsOnCancel(t *testing.T) {
	conv := &stubConverter{}
	p, _ := newTestPipeline(t, conv)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	paths := collect(p.ExtractAndConvert(ctx, message(attachment("a.doc", "application/msword", "a")), t.TempDir()))
	assert.Empty(t, paths)
	assert.Empty(t, conv.calls)
}

// execFunc adapts a function to convert.Executor.
type execFunc func(argv []string) supervise.Result

func (f execFunc) Execute(_ context.Context, argv []string, _ time.Duration) (supervise.Result, error) {
	return f(argv), nil
}

func TestExtractAndConvert_WithDispatcher(t *testing.T) {
	dir := t.TempDir()
	table, err := convert.DefaultTable()
	require.NoError(t, err)

	exec := execFunc(func(argv []string) supervise.Result {
		switch argv[0] {
		case "pandoc":
			for i, a := range argv {
				if a == "--output" {
					_ = os.WriteFile(argv[i+1], []byte("%PDF"), 0o644)
				}
			}
			return supervise.Result{}
		case "soffice":
			// Scenario: the office suite crashes after writing a lock file.
			_ = os.WriteFile(filepath.Join(dir, "lu1234.tmp"), nil, 0o644)
			return supervise.Result{ExitCode: 1}
		default:
			// The image tool exits cleanly without writing anything.
			return supervise.Result{}
		}
	})

	d := convert.New(convert.DefaultConfig(), table, exec, zap.NewNop())
	rec := &recorder{}
	p := New(table, d, rec, zap.NewNop())

	msg := message(
		attachment("notes.txt", "text/plain", "# Title\n\ntext"),
		attachment("budget.xlsx", "application/octet-stream", "PK"),
		attachment("photo.png", "image/png", "\x89PNG\r\n\x1a\n"),
		attachment("final.pdf", "application/pdf", "%PDF-final"),
	)

	paths := collect(p.ExtractAndConvert(context.Background(), msg, dir))

	require.Len(t, paths, 2)
	assert.Equal(t, filepath.Join(dir, "notes-"+digest.Sum([]byte("# Title\n\ntext"))+".pdf"), paths[0])
	assert.Equal(t, filepath.Join(dir, "final-"+digest.Sum([]byte("%PDF-final"))+".pdf"), paths[1])

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{filepath.Base(paths[0]), filepath.Base(paths[1])}, names)

	require.Len(t, rec.outcomes, 4)
	assert.Equal(t, convert.KindTool, convert.KindOf(rec.outcomes[1].Err))
	assert.Equal(t, convert.KindRejected, convert.KindOf(rec.outcomes[2].Err))
}
