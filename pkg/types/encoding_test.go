package types

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectEncoding(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    Encoding
	}{
		{"plain text", "hello world", EncodingUTF8},
		{"markdown with newlines", "# Title\n\nBody\ttext\r\n", EncodingUTF8},
		{"unicode", "héllo wörld 日本語", EncodingUTF8},
		{"empty", "", EncodingUTF8},
		{"data uri", "data:image/png;base64,iVBORw0KGgo=", EncodingBase64},
		{"data uri without base64 marker", "data:text/plain,hello", EncodingUTF8},
		{"nul byte", "abc\x00def", EncodingBinary},
		{"control byte", "abc\x07def", EncodingBinary},
		{"escape byte", "abc\x1bdef", EncodingBinary},
		{"binary past scan window", strings.Repeat("a", 150) + "\x00", EncodingUTF8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectEncoding(tt.content))
		})
	}
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "short", Preview("short"))
	assert.Equal(t, "", Preview(""))

	long := strings.Repeat("x", PreviewMaxLen+200)
	got := Preview(long)
	assert.Len(t, got, PreviewMaxLen)
	assert.Equal(t, long[:PreviewMaxLen], got)

	exact := strings.Repeat("y", PreviewMaxLen)
	assert.Equal(t, exact, Preview(exact))
}

func TestActivityTypeValid(t *testing.T) {
	for _, a := range []ActivityType{ActivityOpen, ActivityClose, ActivityFileAccess, ActivityFileCreate, ActivityFileDelete} {
		assert.True(t, a.Valid(), string(a))
	}
	assert.False(t, ActivityType("rename").Valid())
	assert.False(t, ActivityType("").Valid())
}

func TestMigrationReportFailed(t *testing.T) {
	assert.False(t, (&MigrationReport{}).Failed())
	assert.False(t, (&MigrationReport{FilesImported: 2, Errors: []string{"one bad row"}}).Failed())
	assert.True(t, (&MigrationReport{Errors: []string{"store unreadable"}}).Failed())
}
