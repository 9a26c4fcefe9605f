package convert

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustDefaultTable(t *testing.T) *Table {
	t.Helper()
	table, err := DefaultTable()
	require.NoError(t, err)
	return table
}

func TestDefaultTable_Classify(t *testing.T) {
	table := mustDefaultTable(t)

	tests := []struct {
		ext  string
		want Strategy
	}{
		{".ods", StrategyOffice},
		{".xlsx", StrategyOffice},
		{".doc", StrategyOffice},
		{".pptx", StrategyOffice},
		{".123", StrategyOffice},
		{".602", StrategyOffice},
		{".DOCX", StrategyOffice},
		{"rtf", StrategyOffice},
		{".jpg", StrategyImage},
		{".jpeg", StrategyImage},
		{".png", StrategyImage},
		{".gif", StrategyImage},
		{".tiff", StrategyImage},
		{".BMP", StrategyImage},
		{".txt", StrategyDocument},
		{".md", StrategyDocument},
		{".html", StrategyDocument},
		{"", StrategyDocument},
	}

	for _, tt := range tests {
		t.Run(tt.ext, func(t *testing.T) {
			assert.Equal(t, tt.want, table.Classify(tt.ext))
		})
	}
}

func TestDefaultTable_Sets(t *testing.T) {
	table := mustDefaultTable(t)

	assert.True(t, table.IsPrintable(".pdf"))
	assert.True(t, table.IsPrintable(".PS"))
	assert.False(t, table.IsPrintable(".txt"))

	for _, ext := range []string{".asc", ".sig", ".gpg"} {
		assert.True(t, table.IsExcluded(ext), ext)
	}
	assert.False(t, table.IsExcluded(".pdf"))

	assert.Equal(t, FormatMarkdown, table.FormatHint(".txt"))
	assert.Equal(t, FormatMarkdown, table.FormatHint(".TXT"))
	assert.Empty(t, table.FormatHint(".md"))
}

func TestParseTable_FirstMatchWins(t *testing.T) {
	table, err := ParseTable([]byte(`
strategies:
  - name: image
    extensions: [.svg]
  - name: office
    extensions: [.svg, .odt]
`))
	require.NoError(t, err)

	assert.Equal(t, StrategyImage, table.Classify(".svg"))
	assert.Equal(t, StrategyOffice, table.Classify(".odt"))
}

func TestParseTable_Errors(t *testing.T) {
	t.Run("unknown strategy", func(t *testing.T) {
		_, err := ParseTable([]byte("strategies:\n  - name: fax\n    extensions: [.fax]\n"))
		assert.ErrorContains(t, err, `unknown strategy "fax"`)
	})

	t.Run("document takes no extensions", func(t *testing.T) {
		_, err := ParseTable([]byte("strategies:\n  - name: document\n    extensions: [.txt]\n"))
		assert.Error(t, err)
	})

	t.Run("invalid yaml", func(t *testing.T) {
		_, err := ParseTable([]byte("strategies: [: nope"))
		assert.Error(t, err)
	})
}

func TestLoadTable(t *testing.T) {
	t.Run("empty path uses built-in table", func(t *testing.T) {
		table, err := LoadTable("")
		require.NoError(t, err)
		assert.Equal(t, StrategyOffice, table.Classify(".xlsx"))
	})

	t.Run("custom file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "formats.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
strategies:
  - name: image
    extensions: [webp]
printable: [pdf]
excluded: [p7s]
`), 0o644))

		table, err := LoadTable(path)
		require.NoError(t, err)

		assert.Equal(t, StrategyImage, table.Classify(".webp"))
		assert.Equal(t, StrategyDocument, table.Classify(".xlsx"))
		assert.True(t, table.IsExcluded(".p7s"))
		assert.True(t, table.IsPrintable(".pdf"))
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadTable(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})
}
