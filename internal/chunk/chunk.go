// Package chunk splits multi-location bill text into per-location chunks.
//
// A chunk is the text strictly between one location marker and the next,
// or between the last marker and the end of the document. Text before the
// first marker is the preamble and belongs to no chunk.
package chunk

import (
	"fmt"
	"iter"
	"regexp"

	"billextract/internal/billerr"
)

// DefaultMarkerPattern matches location headers such as "Service Location 2 of 5".
const DefaultMarkerPattern = `Service Location \d+ of \d+`

// DefaultMarker is the compiled DefaultMarkerPattern.
var DefaultMarker = regexp.MustCompile(DefaultMarkerPattern)

// Chunk is the text of one service location.
type Chunk struct {
	// Index is the zero-based position of the chunk in the document.
	Index int

	// Marker is the matched marker text, e.g. "Service Location 1 of 3".
	Marker string

	// Text is the content between this marker and the next one.
	Text string

	// Offset is the byte offset of Text in the document content.
	Offset int
}

// Raw returns the marker followed by the chunk text, as it appeared in the document.
func (c Chunk) Raw() string {
	return c.Marker + c.Text
}

// Sequence is a lazy, restartable view over the chunks of a document.
type Sequence struct {
	content string
	bounds  [][]int
}

// Split locates every marker match in content. It fails with ErrChunking
// when there is none. A nil marker means DefaultMarker.
func Split(content string, marker *regexp.Regexp) (*Sequence, error) {
	const op = "Split"

	if marker == nil {
		marker = DefaultMarker
	}

	bounds := marker.FindAllStringIndex(content, -1)
	if len(bounds) == 0 {
		return nil, billerr.New(op, billerr.ErrChunking, fmt.Sprintf("pattern %q did not match", marker.String()))
	}

	return &Sequence{content: content, bounds: bounds}, nil
}

// Compile compiles a marker pattern, falling back to DefaultMarker for "".
func Compile(pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		return DefaultMarker, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid chunk marker %q: %w", pattern, err)
	}
	return re, nil
}

// Len returns the number of chunks, equal to the number of markers.
func (s *Sequence) Len() int {
	return len(s.bounds)
}

// At returns the i-th chunk.
func (s *Sequence) At(i int) Chunk {
	start, end := s.bounds[i][0], s.bounds[i][1]
	next := len(s.content)
	if i+1 < len(s.bounds) {
		next = s.bounds[i+1][0]
	}
	return Chunk{
		Index:  i,
		Marker: s.content[start:end],
		Text:   s.content[end:next],
		Offset: end,
	}
}

// All yields the chunks in source order. Each call starts from the first chunk.
func (s *Sequence) All() iter.Seq2[int, Chunk] {
	return func(yield func(int, Chunk) bool) {
		for i := range s.bounds {
			if !yield(i, s.At(i)) {
				return
			}
		}
	}
}

// Preamble returns the text before the first marker.
func (s *Sequence) Preamble() string {
	return s.content[:s.bounds[0][0]]
}

// HasMarker reports whether content contains at least one marker.
func HasMarker(content string, marker *regexp.Regexp) bool {
	if marker == nil {
		marker = DefaultMarker
	}
	return marker.MatchString(content)
}
