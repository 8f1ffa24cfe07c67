package classify

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"billextract/internal/billerr"
	"billextract/pkg/models"
)

func TestCleanIdentifier(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"8260-1234 5678", "826012345678"},
		{" ABC.123/x ", "ABC123x"},
		{"#:*", ""},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CleanIdentifier(tt.in), "input %q", tt.in)
	}
}

func TestClassifier_Classify(t *testing.T) {
	c := New(StaticMapping{
		"826012345678": models.BillTypeMLB,
		"111222333":    models.BillTypeSLB,
	})
	ctx := context.Background()

	tests := []struct {
		name       string
		identifier string
		wantType   models.BillType
		wantStatus Status
	}{
		{"mapped MLB with OCR noise", "8260 1234-5678", models.BillTypeMLB, StatusOK},
		{"mapped SLB", "111-222-333", models.BillTypeSLB, StatusOK},
		{"unknown identifier", "999999999", "", StatusAudit},
		{"empty after cleaning", " - ", "", StatusAudit},
		{"prefix is not a match", "11122233", "", StatusAudit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.Classify(ctx, tt.identifier)
			require.NoError(t, err)
			assert.Equal(t, tt.wantType, got.BillType)
			assert.Equal(t, tt.wantStatus, got.Status)
		})
	}
}

type failingRegistry struct{}

func (failingRegistry) Lookup(context.Context, string) (models.BillType, bool, error) {
	return "", false, billerr.Transient("Lookup", errors.New("connection reset"), "")
}

func TestClassifier_RegistryError(t *testing.T) {
	got, err := New(failingRegistry{}).Classify(context.Background(), "123")

	assert.True(t, billerr.IsRetryable(err))
	assert.Equal(t, StatusAudit, got.Status)
}

func TestFindIdentifier(t *testing.T) {
	t.Run("prefers account number field", func(t *testing.T) {
		id := FindIdentifier(map[string]string{"account_number": "A-1", "invoice_id": "B-2"}, "Account #: C-3")
		assert.Equal(t, "A-1", id)
	})

	t.Run("falls back to invoice id", func(t *testing.T) {
		assert.Equal(t, "B-2", FindIdentifier(map[string]string{"invoice_id": "B-2"}, ""))
	})

	t.Run("falls back to labeled text", func(t *testing.T) {
		content := "Spectrum Business\nAccount Number: 8260 1234 5678\nService Address"
		assert.Equal(t, "8260 1234 5678", FindIdentifier(nil, content))
	})

	t.Run("nothing found", func(t *testing.T) {
		assert.Equal(t, "", FindIdentifier(nil, "Total Due $45.00"))
	})
}

func TestLoadMappingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "accounts.yaml")
	content := `accounts:
  - account_number: "8260-1234-5678"
    bill_type: mlb
  - account_number: "ABC 123"
    bill_type: SLB
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	m, err := LoadMappingFile(path)
	require.NoError(t, err)

	assert.Equal(t, models.BillTypeMLB, m["826012345678"])
	assert.Equal(t, models.BillTypeSLB, m["ABC123"], "identifier case is preserved")
}

func TestLoadMappingFile_Errors(t *testing.T) {
	_, err := LoadMappingFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, billerr.ErrConfiguration)

	_, err = NewStaticMapping([]MappingEntry{{AccountNumber: "1", BillType: "XYZ"}})
	assert.ErrorIs(t, err, billerr.ErrConfiguration)

	_, err = NewStaticMapping([]MappingEntry{
		{AccountNumber: "1-2", BillType: "SLB"},
		{AccountNumber: "12", BillType: "MLB"},
	})
	assert.ErrorIs(t, err, billerr.ErrConfiguration)
}

type fakeRangeReader struct {
	rows [][]any
}

func (f fakeRangeReader) ReadRange(context.Context, string) ([][]any, error) {
	return f.rows, nil
}

func TestLoadSheetMapping(t *testing.T) {
	reader := fakeRangeReader{rows: [][]any{
		{"Account", "Multiple Locations"},
		{"8260-1234", "Yes"},
		{"555 000 111", "SLB"},
		{"short row"},
	}}

	m, err := LoadSheetMapping(context.Background(), reader, "Accounts!A:B")
	require.NoError(t, err)

	assert.Len(t, m, 2)
	assert.Equal(t, models.BillTypeMLB, m["82601234"])
	assert.Equal(t, models.BillTypeSLB, m["555000111"])
}

type fakeRow struct {
	multiple bool
	err      error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*(dest[0].(*bool)) = r.multiple
	return nil
}

type fakeQuerier struct {
	rows map[string]fakeRow
	args []any
}

func (q *fakeQuerier) QueryRow(_ context.Context, _ string, args ...any) pgx.Row {
	q.args = args
	if row, ok := q.rows[args[0].(string)]; ok {
		return row
	}
	return fakeRow{err: pgx.ErrNoRows}
}

func TestPostgresRegistry_Lookup(t *testing.T) {
	q := &fakeQuerier{rows: map[string]fakeRow{
		"100": {multiple: true},
		"200": {multiple: false},
		"300": {err: errors.New("conn closed")},
	}}
	reg := &PostgresRegistry{db: q}
	ctx := context.Background()

	bt, found, err := reg.Lookup(ctx, "100")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, models.BillTypeMLB, bt)
	assert.Equal(t, []any{"100"}, q.args)

	bt, found, err = reg.Lookup(ctx, "200")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, models.BillTypeSLB, bt)

	_, found, err = reg.Lookup(ctx, "404")
	require.NoError(t, err)
	assert.False(t, found)

	_, _, err = reg.Lookup(ctx, "300")
	assert.True(t, billerr.IsRetryable(err))
}

func TestNewPostgresRegistry_RequiresURL(t *testing.T) {
	_, err := NewPostgresRegistry(context.Background(), "")
	assert.ErrorIs(t, err, billerr.ErrConfiguration)
}
