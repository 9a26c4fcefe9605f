package digest

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSum_Deterministic(t *testing.T) {
	inputs := [][]byte{
		nil,
		[]byte("hello"),
		[]byte("%PDF-1.7\n..."),
		make([]byte, 64<<10),
	}

	for _, in := range inputs {
		first := Sum(in)
		second := Sum(append([]byte(nil), in...))

		assert.Equal(t, first, second)
		assert.Len(t, first, Length)
	}
}

func TestSum_KnownValue(t *testing.T) {
	// sha256("hello") = 2cf24dba5fb0a30e26e83b2ac5b9e29e...
	assert.Equal(t, "2cf24dba5f", Sum([]byte("hello")))
}

func TestSum_DistinctInputs(t *testing.T) {
	assert.NotEqual(t, Sum([]byte("invoice v1")), Sum([]byte("invoice v2")))
}

func TestStoredName(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		ext      string
		want     string
	}{
		{"plain", "report.xlsx", ".xlsx", "report-abc1234567.xlsx"},
		{"keeps dots in base", "q3.final.docx", ".docx", "q3.final-abc1234567.docx"},
		{"strips unix dirs", "../../etc/passwd.txt", ".txt", "passwd-abc1234567.txt"},
		{"strips windows dirs", `C:\Users\me\scan.png`, ".png", "scan-abc1234567.png"},
		{"extension only", ".pdf", ".pdf", "attachment-abc1234567.pdf"},
		{"inferred extension", "scan", ".pdf", "scan-abc1234567.pdf"},
		{"empty", "", "", "attachment-abc1234567"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StoredName(tt.filename, "abc1234567", tt.ext))
		})
	}
}
