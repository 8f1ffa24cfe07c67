package cmd

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"billextract/internal/billerr"
	"billextract/internal/pipeline"
)

func TestSelectDocument(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.pdf", "a.pdf"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("%PDF"), 0644))
	}

	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"first", "1\n", "a.pdf", false},
		{"second without newline", "2", "b.pdf", false},
		{"out of range", "3\n", "", true},
		{"not a number", "a.pdf\n", "", true},
		{"no input", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var prompt bytes.Buffer
			got, err := selectDocument(dir, strings.NewReader(tt.input), &prompt)
			assert.Contains(t, prompt.String(), " 1) a.pdf")
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, filepath.Join(dir, tt.want), got)
		})
	}
}

func TestSelectDocument_EmptyFolder(t *testing.T) {
	_, err := selectDocument(t.TempDir(), strings.NewReader("1\n"), &bytes.Buffer{})
	assert.ErrorContains(t, err, "no PDF documents found")
}

func TestStatusEmoji(t *testing.T) {
	assert.Equal(t, "✅", statusEmoji(pipeline.StatusArchived))
	assert.Equal(t, "❌", statusEmoji(pipeline.StatusFailed))
	assert.Equal(t, "❓", statusEmoji("unknown"))
}

func TestDescribeError(t *testing.T) {
	assert.Equal(t, "processing was canceled", describeError(context.Canceled))
	assert.Contains(t, describeError(billerr.New("Load", billerr.ErrConfiguration, "bad")), "configuration problem")
	assert.Equal(t, "boom", describeError(errors.New("boom")))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("  short\n", 10))
	assert.Equal(t, "abc... (3 more characters)", truncate("abcdef", 3))
	assert.Equal(t, "ü... (1 more characters)", truncate("üü", 1))
}

func TestPrintProgress_ShowsModelResponse(t *testing.T) {
	out := &pipeline.Outcome{
		Path:        "bills/garbled.pdf",
		Status:      pipeline.StatusFailed,
		Err:         billerr.Format("ParseSingle", "I can't read this bill.", "invalid JSON"),
		RawResponse: "I can't read this bill.",
	}

	got := captureStdout(t, func() { printProgress(1, 1, out, true) })

	assert.Contains(t, got, "[1/1] garbled.pdf - ❌")
	assert.Contains(t, got, "model response: I can't read this bill.")
}

func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	r, w, err := os.Pipe()
	require.NoError(t, err)
	orig := os.Stdout
	os.Stdout = w
	fn()
	os.Stdout = orig
	require.NoError(t, w.Close())
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(data)
}

func TestClosersRunInReverse(t *testing.T) {
	var order []int
	var c closers
	c.add(func() { order = append(order, 1) })
	c.add(func() { order = append(order, 2) })
	c.close()
	assert.Equal(t, []int{2, 1}, order)
}
