package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

// CompletionFunc is called after each document of a batch finishes.
// Calls are serialized.
type CompletionFunc func(done, total int, out *Outcome)

// WithCompletion registers a callback for finished batch documents.
func WithCompletion(fn CompletionFunc) Option {
	return func(p *Processor) {
		p.completion = fn
	}
}

// ProcessBatch runs Process for every path with at most workers documents
// in flight. Outcomes are returned in input order. A failing document never
// stops the others.
func (p *Processor) ProcessBatch(ctx context.Context, paths []string, workers int) []*Outcome {
	if workers < 1 {
		workers = 1
	}

	outcomes := make([]*Outcome, len(paths))

	var mu sync.Mutex
	done := 0

	var g errgroup.Group
	g.SetLimit(workers)
	for i, path := range paths {
		g.Go(func() error {
			out, _ := p.Process(ctx, path)
			outcomes[i] = out

			if p.completion != nil {
				mu.Lock()
				done++
				p.completion(done, len(paths), out)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}

// Summary counts batch outcomes by status.
type Summary struct {
	Total       int `json:"total"`
	Archived    int `json:"archived"`
	Audit       int `json:"audit"`
	Quarantined int `json:"quarantined"`
	Failed      int `json:"failed"`
}

// Summarize counts outcomes by status.
func Summarize(outcomes []*Outcome) Summary {
	s := Summary{Total: len(outcomes)}
	for _, out := range outcomes {
		if out == nil {
			s.Failed++
			continue
		}
		switch out.Status {
		case StatusArchived:
			s.Archived++
		case StatusAudit:
			s.Audit++
		case StatusQuarantined:
			s.Quarantined++
		default:
			s.Failed++
		}
	}
	return s
}

// FindDocuments returns the PDF files directly inside dir, sorted by name.
func FindDocuments(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", dir, err)
	}

	var docs []string
	for _, e := range entries {
		if e.Type().IsRegular() && strings.HasSuffix(strings.ToLower(e.Name()), ".pdf") {
			docs = append(docs, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(docs)
	return docs, nil
}
