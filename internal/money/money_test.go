package money

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCents(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"$45.00", 4500, false},
		{"45", 4500, false},
		{"$1,234.56", 123456, false},
		{"USD 10.10", 1010, false},
		{" $ 0.02 ", 2, false},
		{"($12.50)", -1250, false},
		{"-$3.00", -300, false},
		{"3.00-", -300, false},
		{"5.00CR", -500, false},
		{"$12.00 Cr", -1200, false},
		{"$12.00 cr", -1200, false},
		{"CR", 0, true},
		{"", 0, true},
		{"N/A", 0, true},
		{"$", 0, true},
		{"1e5", 0, true},
		{"twelve", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseCents(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrFormat)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "$0.50", Format(50))
	assert.Equal(t, "$150.00", Format(15000))
	assert.Equal(t, "-$1.05", Format(-105))
}

func ExampleParseCents() {
	cents, _ := ParseCents("$1,234.56")
	fmt.Println(cents, Format(cents))
	// Output: 123456 $1234.56
}
