package archive

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"billextract/internal/billerr"
	"billextract/pkg/models"
)

type dirs struct {
	docs, output, archive, audit string
}

func setup(t *testing.T) (dirs, string) {
	t.Helper()
	root := t.TempDir()
	d := dirs{
		docs:    filepath.Join(root, "documents"),
		output:  filepath.Join(root, "output"),
		archive: filepath.Join(root, "archive"),
		audit:   filepath.Join(root, "audit"),
	}
	require.NoError(t, os.MkdirAll(d.docs, 0755))
	source := filepath.Join(d.docs, "march bill.pdf")
	require.NoError(t, os.WriteFile(source, []byte("%PDF-1.7"), 0644))
	return d, source
}

func newArchiver(d dirs, mirror ObjectStore) *Archiver {
	return New(Options{
		OutputDir:     d.output,
		ArchiveDir:    d.archive,
		AuditDir:      d.audit,
		WriteAttempts: 3,
		WriteDelay:    time.Millisecond,
		Mirror:        mirror,
	})
}

var record = &models.SingleAccountRecord{
	Account:   models.Account{AccountNumber: "12345", InvoiceDate: "01/05/2024", TotalDue: "$45.00"},
	LineItems: []models.LineItem{{Description: "Data Plan", Total: "$45.00"}},
}

func TestOutputName(t *testing.T) {
	assert.Equal(t, "march bill_output.json", OutputName("/data/documents/march bill.pdf"))
	assert.Equal(t, "bill_output.json", OutputName("bill"))
}

func TestArchive(t *testing.T) {
	tests := []struct {
		name    string
		valid   bool
		destDir func(d dirs) string
	}{
		{"valid goes to archive", true, func(d dirs) string { return d.archive }},
		{"invalid goes to audit", false, func(d dirs) string { return d.audit }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, source := setup(t)

			result, err := newArchiver(d, nil).Archive(context.Background(), source, record, tt.valid)
			require.NoError(t, err)

			assert.Equal(t, filepath.Join(tt.destDir(d), "march bill.pdf"), result.DestinationPath)
			assert.Equal(t, !tt.valid, result.Audit)
			assert.NoFileExists(t, source)
			assert.FileExists(t, result.DestinationPath)

			data, err := os.ReadFile(filepath.Join(d.output, "march bill_output.json"))
			require.NoError(t, err)
			var got models.SingleAccountRecord
			require.NoError(t, json.Unmarshal(data, &got))
			assert.Equal(t, *record, got)

			entries, err := os.ReadDir(d.output)
			require.NoError(t, err)
			assert.Len(t, entries, 1, "no temp files left behind")
		})
	}
}

func TestArchive_KeepsExistingArchivedCopy(t *testing.T) {
	d, source := setup(t)
	require.NoError(t, os.MkdirAll(d.archive, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(d.archive, "march bill.pdf"), []byte("older"), 0644))

	result, err := newArchiver(d, nil).Archive(context.Background(), source, record, true)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(d.archive, "march bill_1.pdf"), result.DestinationPath)
	older, err := os.ReadFile(filepath.Join(d.archive, "march bill.pdf"))
	require.NoError(t, err)
	assert.Equal(t, "older", string(older))
}

func TestArchive_WriteRetries(t *testing.T) {
	d, source := setup(t)
	a := newArchiver(d, nil)

	calls := 0
	a.write = func(path string, data []byte) error {
		calls++
		if calls < 3 {
			return errors.New("disk busy")
		}
		return writeAtomic(path, data)
	}

	_, err := a.Archive(context.Background(), source, record, true)
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestArchive_WriteFailureLeavesSource(t *testing.T) {
	d, source := setup(t)
	a := newArchiver(d, nil)

	calls := 0
	a.write = func(string, []byte) error {
		calls++
		return errors.New("read-only file system")
	}
	renamed := false
	a.rename = func(string, string) error {
		renamed = true
		return nil
	}

	_, err := a.Archive(context.Background(), source, record, true)

	var archiveErr *billerr.ArchiveError
	require.ErrorAs(t, err, &archiveErr)
	assert.ErrorIs(t, err, billerr.ErrArchiveIO)
	assert.False(t, archiveErr.OutputWritten)
	assert.False(t, archiveErr.Moved)
	assert.Equal(t, 3, calls)
	assert.False(t, renamed, "source is never moved when the write fails")
	assert.FileExists(t, source)
}

func TestArchive_MoveFailureRollsBack(t *testing.T) {
	d, source := setup(t)
	a := newArchiver(d, nil)

	moves := 0
	a.rename = func(string, string) error {
		moves++
		return &os.LinkError{Op: "rename", Err: syscall.EACCES}
	}

	_, err := a.Archive(context.Background(), source, record, false)

	var archiveErr *billerr.ArchiveError
	require.ErrorAs(t, err, &archiveErr)
	assert.True(t, archiveErr.OutputWritten)
	assert.False(t, archiveErr.Moved)
	assert.True(t, archiveErr.RolledBack)
	assert.Equal(t, 1, moves, "the move is attempted once")
	assert.NoFileExists(t, filepath.Join(d.output, "march bill_output.json"))
	assert.FileExists(t, source)
}

func TestArchive_CrossDeviceFallback(t *testing.T) {
	d, source := setup(t)
	a := newArchiver(d, nil)
	a.rename = func(string, string) error {
		return &os.LinkError{Op: "rename", Err: syscall.EXDEV}
	}

	result, err := a.Archive(context.Background(), source, record, true)
	require.NoError(t, err)

	assert.NoFileExists(t, source)
	data, err := os.ReadFile(result.DestinationPath)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.7", string(data))
}

func TestArchive_MissingSource(t *testing.T) {
	d, _ := setup(t)

	_, err := newArchiver(d, nil).Archive(context.Background(), filepath.Join(d.docs, "gone.pdf"), record, true)
	assert.ErrorIs(t, err, billerr.ErrArchiveIO)
	assert.NoDirExists(t, d.output)
}

func TestQuarantine(t *testing.T) {
	d, source := setup(t)

	result, err := newArchiver(d, nil).Quarantine(context.Background(), source)
	require.NoError(t, err)

	assert.True(t, result.Audit)
	assert.Empty(t, result.OutputPath)
	assert.FileExists(t, filepath.Join(d.audit, "march bill.pdf"))
	assert.NoFileExists(t, source)
}

type memoryStore struct {
	mu      sync.Mutex
	objects map[string]string
	err     error
}

func (m *memoryStore) Put(_ context.Context, key string, body io.Reader, _ string) error {
	if m.err != nil {
		return m.err
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.objects == nil {
		m.objects = map[string]string{}
	}
	m.objects[key] = string(data)
	return nil
}

func TestArchive_Mirror(t *testing.T) {
	d, source := setup(t)
	store := &memoryStore{}

	_, err := newArchiver(d, store).Archive(context.Background(), source, record, false)
	require.NoError(t, err)

	assert.Contains(t, store.objects, "output/march bill_output.json")
	assert.Equal(t, "%PDF-1.7", store.objects["audit/march bill.pdf"])
}

func TestArchive_MirrorFailureIsNotFatal(t *testing.T) {
	d, source := setup(t)
	store := &memoryStore{err: errors.New("bucket not found")}

	result, err := newArchiver(d, store).Archive(context.Background(), source, record, true)
	require.NoError(t, err)
	assert.FileExists(t, result.DestinationPath)
}

func TestJoinKey(t *testing.T) {
	assert.Equal(t, "bills/2024/output/a.json", joinKey("/bills/2024/", "output/a.json"))
	assert.Equal(t, "output/a.json", joinKey("", "output/a.json"))
}
