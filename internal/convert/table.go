package convert

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed formats.yaml
var defaultFormats []byte

// Strategy identifies a conversion backend.
type Strategy string

const (
	// StrategyOffice converts through a headless office suite.
	StrategyOffice Strategy = "office"

	// StrategyImage converts raster images with an image tool.
	StrategyImage Strategy = "image"

	// StrategyDocument converts through a universal document converter.
	// It is the fallback for every unclassified extension.
	StrategyDocument Strategy = "document"
)

// FormatMarkdown is the input-format hint that makes the document strategy
// read plain text as markdown.
const FormatMarkdown = "markdown"

// tableFile mirrors the YAML layout of formats.yaml.
type tableFile struct {
	Strategies []struct {
		Name       Strategy `yaml:"name"`
		Extensions []string `yaml:"extensions"`
	} `yaml:"strategies"`
	FormatHints map[string]string `yaml:"format_hints"`
	Printable   []string          `yaml:"printable"`
	Excluded    []string          `yaml:"excluded"`
}

type strategyRule struct {
	strategy   Strategy
	extensions map[string]bool
}

// Table maps attachment extensions to conversion strategies.
type Table struct {
	rules     []strategyRule
	hints     map[string]string
	printable map[string]bool
	excluded  map[string]bool
}

// DefaultTable returns the built-in classification table.
func DefaultTable() (*Table, error) {
	return ParseTable(defaultFormats)
}

// LoadTable reads a classification table from a YAML file. An empty path
// selects the built-in table.
func LoadTable(path string) (*Table, error) {
	if path == "" {
		return DefaultTable()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading format table %s: %w", path, err)
	}
	t, err := ParseTable(data)
	if err != nil {
		return nil, fmt.Errorf("format table %s: %w", path, err)
	}
	return t, nil
}

// ParseTable decodes a classification table from YAML.
func ParseTable(data []byte) (*Table, error) {
	var f tableFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("unmarshaling format table: %w", err)
	}

	t := &Table{
		hints:     make(map[string]string, len(f.FormatHints)),
		printable: extSet(f.Printable),
		excluded:  extSet(f.Excluded),
	}

	for _, s := range f.Strategies {
		switch s.Name {
		case StrategyOffice, StrategyImage:
		case StrategyDocument:
			return nil, fmt.Errorf("strategy %q is the fallback and takes no extensions", s.Name)
		default:
			return nil, fmt.Errorf("unknown strategy %q", s.Name)
		}
		t.rules = append(t.rules, strategyRule{
			strategy:   s.Name,
			extensions: extSet(s.Extensions),
		})
	}

	for ext, format := range f.FormatHints {
		t.hints[normalizeExt(ext)] = format
	}

	return t, nil
}

// Classify returns the strategy for ext. Extensions are compared
// case-insensitively and the leading dot is optional.
func (t *Table) Classify(ext string) Strategy {
	ext = normalizeExt(ext)
	for _, r := range t.rules {
		if r.extensions[ext] {
			return r.strategy
		}
	}
	return StrategyDocument
}

// FormatHint returns the input-format hint for ext, or "".
func (t *Table) FormatHint(ext string) string {
	return t.hints[normalizeExt(ext)]
}

// IsPrintable reports whether ext can be sent to the printer unconverted.
func (t *Table) IsPrintable(ext string) bool {
	return t.printable[normalizeExt(ext)]
}

// IsExcluded reports whether attachments with ext are ignored entirely.
func (t *Table) IsExcluded(ext string) bool {
	return t.excluded[normalizeExt(ext)]
}

func extSet(exts []string) map[string]bool {
	set := make(map[string]bool, len(exts))
	for _, e := range exts {
		set[normalizeExt(e)] = true
	}
	return set
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}
