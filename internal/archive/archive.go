// Package archive persists extraction results and moves processed PDFs.
//
// Archive writes the record to <output>/<base>_output.json first, retrying
// the write, and then moves the source PDF exactly once: to the archive
// directory when the record is valid, otherwise to the audit directory. If
// the move fails the output file is removed again, so a document is never
// left half archived.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"billextract/internal/billerr"
	"billextract/internal/logger"
	"billextract/internal/retry"
	"billextract/pkg/models"
)

// Options configures an Archiver.
type Options struct {
	OutputDir  string
	ArchiveDir string
	AuditDir   string

	// WriteAttempts bounds the output write attempts. Defaults to 3.
	WriteAttempts int

	// WriteDelay is the first pause between write attempts. Defaults to 200ms.
	WriteDelay time.Duration

	// Mirror, when set, receives a copy of every archived file.
	Mirror ObjectStore
}

// Result describes where an archived document ended up.
type Result struct {
	OutputPath      string `json:"output_path,omitempty"`
	DestinationPath string `json:"destination_path"`
	Audit           bool   `json:"audit"`
}

// Archiver moves processed documents and writes their output JSON.
type Archiver struct {
	opts Options
	log  zerolog.Logger

	// hooks for tests
	rename func(oldpath, newpath string) error
	write  func(path string, data []byte) error
}

// New returns an Archiver.
func New(opts Options) *Archiver {
	if opts.WriteAttempts < 1 {
		opts.WriteAttempts = 3
	}
	if opts.WriteDelay <= 0 {
		opts.WriteDelay = 200 * time.Millisecond
	}
	return &Archiver{
		opts:   opts,
		log:    logger.WithComponent("archive"),
		rename: os.Rename,
		write:  writeAtomic,
	}
}

// WithLogger returns a copy of a that logs to log.
func (a *Archiver) WithLogger(log zerolog.Logger) *Archiver {
	c := *a
	c.log = log
	return &c
}

// OutputName returns the output file name for a source document.
func OutputName(source string) string {
	base := filepath.Base(source)
	return strings.TrimSuffix(base, filepath.Ext(base)) + "_output.json"
}

// Archive writes record and moves source according to valid.
func (a *Archiver) Archive(ctx context.Context, source string, record models.Record, valid bool) (*Result, error) {
	const op = "Archive"

	if _, err := os.Stat(source); err != nil {
		return nil, &billerr.ArchiveError{Op: op, Source: source, Err: fmt.Errorf("source unavailable: %w", err)}
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return nil, &billerr.ArchiveError{Op: op, Source: source, Err: fmt.Errorf("failed to encode record: %w", err)}
	}
	data = append(data, '\n')

	outputPath := filepath.Join(a.opts.OutputDir, OutputName(source))
	policy := retry.Policy{
		MaxAttempts: a.opts.WriteAttempts,
		Initial:     a.opts.WriteDelay,
		Max:         4 * a.opts.WriteDelay,
		Multiplier:  2,
		Retryable:   func(error) bool { return true },
	}
	err = retry.Do(ctx, policy, a.log, "write output", func(context.Context) error {
		return a.write(outputPath, data)
	})
	if err != nil {
		return nil, &billerr.ArchiveError{Op: op, Source: source, OutputPath: outputPath, Err: err}
	}

	destDir := a.opts.ArchiveDir
	if !valid {
		destDir = a.opts.AuditDir
	}
	dest, err := a.move(source, destDir)
	if err != nil {
		archiveErr := &billerr.ArchiveError{
			Op:            op,
			Source:        source,
			OutputPath:    outputPath,
			OutputWritten: true,
			Err:           err,
		}
		if rmErr := os.Remove(outputPath); rmErr == nil || errors.Is(rmErr, os.ErrNotExist) {
			archiveErr.RolledBack = true
		} else {
			a.log.Error().Err(rmErr).Str("output", outputPath).Msg("Failed to roll back output file")
		}
		return nil, archiveErr
	}

	result := &Result{OutputPath: outputPath, DestinationPath: dest, Audit: !valid}

	a.log.Info().
		Str("output", outputPath).
		Str("destination", dest).
		Bool("audit", result.Audit).
		Msg("Document archived")

	a.mirror(ctx, outputPath, "output/"+filepath.Base(outputPath), "application/json")
	a.mirror(ctx, dest, folderName(result.Audit)+"/"+filepath.Base(dest), "application/pdf")

	return result, nil
}

// Quarantine moves source to the audit directory without writing output.
func (a *Archiver) Quarantine(ctx context.Context, source string) (*Result, error) {
	const op = "Quarantine"

	dest, err := a.move(source, a.opts.AuditDir)
	if err != nil {
		return nil, &billerr.ArchiveError{Op: op, Source: source, Err: err}
	}

	a.log.Info().
		Str("destination", dest).
		Msg("Document quarantined for audit")

	a.mirror(ctx, dest, "audit/"+filepath.Base(dest), "application/pdf")

	return &Result{DestinationPath: dest, Audit: true}, nil
}

// move relocates source into dir, keeping its name unless that name is
// already taken there.
func (a *Archiver) move(source, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", dir, err)
	}

	dest, err := freeName(filepath.Join(dir, filepath.Base(source)))
	if err != nil {
		return "", err
	}

	err = a.rename(source, dest)
	if err == nil {
		return dest, nil
	}
	if !errors.Is(err, syscall.EXDEV) {
		return "", fmt.Errorf("failed to move %s: %w", source, err)
	}

	if err := copyFile(source, dest); err != nil {
		_ = os.Remove(dest)
		return "", fmt.Errorf("failed to copy %s across devices: %w", source, err)
	}
	if err := os.Remove(source); err != nil {
		_ = os.Remove(dest)
		return "", fmt.Errorf("failed to remove %s after copy: %w", source, err)
	}
	return dest, nil
}

func (a *Archiver) mirror(ctx context.Context, path, key, contentType string) {
	if a.opts.Mirror == nil {
		return
	}
	if err := Upload(ctx, a.opts.Mirror, path, key, contentType); err != nil {
		a.log.Warn().Err(err).Str("key", key).Msg("Failed to mirror file")
	}
}

func folderName(audit bool) string {
	if audit {
		return "audit"
	}
	return "archive"
}

// freeName returns path, or path with a numeric suffix if path exists.
func freeName(path string) (string, error) {
	ext := filepath.Ext(path)
	stem := strings.TrimSuffix(path, ext)
	candidate := path
	for i := 1; ; i++ {
		_, err := os.Stat(candidate)
		if errors.Is(err, os.ErrNotExist) {
			return candidate, nil
		}
		if err != nil {
			return "", fmt.Errorf("failed to check %s: %w", candidate, err)
		}
		candidate = fmt.Sprintf("%s_%d%s", stem, i, ext)
	}
}

// writeAtomic writes data to a temp file next to path and renames it into place.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, bytes.NewReader(data)); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to rename %s: %w", tmpName, err)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
