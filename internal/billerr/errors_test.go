package billerr

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrap_KeepsExistingProcessingError(t *testing.T) {
	inner := New("Analyze", ErrInput, "empty content")
	wrapped := Wrap("Process", inner, "ignored")

	assert.Same(t, inner, wrapped)
	assert.True(t, errors.Is(wrapped, ErrInput))
	assert.Nil(t, Wrap("Process", nil, ""))
}

func TestTransient_IsRetryable(t *testing.T) {
	err := Transient("Complete", context.DeadlineExceeded, "model call timed out")

	assert.True(t, IsRetryable(err))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.False(t, IsRetryable(New("Parse", ErrExtractionFormat, "")))
}

func TestAnnotate(t *testing.T) {
	t.Run("fills document and stage on processing error", func(t *testing.T) {
		err := Annotate(Format("ParseSingle", "not json", "invalid JSON"), "bill.pdf", StageValidate)

		var pe *ProcessingError
		require.True(t, errors.As(err, &pe))
		assert.Equal(t, "bill.pdf", pe.Document)
		assert.Equal(t, StageExtract, pe.Stage, "existing stage is kept")
		assert.Equal(t, "not json", RawTextOf(err))
	})

	t.Run("wraps plain errors", func(t *testing.T) {
		err := Annotate(fmt.Errorf("boom: %w", ErrChunking), "mlb.pdf", StageChunk)

		assert.Equal(t, StageChunk, StageOf(err))
		assert.True(t, errors.Is(err, ErrChunking))
		assert.Contains(t, err.Error(), "mlb.pdf")
	})
}

func TestArchiveError_MatchesSentinel(t *testing.T) {
	err := &ArchiveError{Op: "move", Source: "a.pdf", OutputWritten: true, Err: errors.New("disk full")}

	assert.True(t, errors.Is(err, ErrArchiveIO))
	assert.Contains(t, err.Error(), "output_written=true")
	assert.Contains(t, err.Error(), "moved=false")
}
