package classify

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"billextract/internal/billerr"
	"billextract/pkg/models"
)

// StaticMapping is an in-memory registry keyed by cleaned identifier.
type StaticMapping map[string]models.BillType

// Lookup implements Registry.
func (m StaticMapping) Lookup(_ context.Context, id string) (models.BillType, bool, error) {
	t, ok := m[id]
	return t, ok, nil
}

// MappingEntry is one row of an account mapping file.
type MappingEntry struct {
	AccountNumber string `mapstructure:"account_number"`
	BillType      string `mapstructure:"bill_type"`
}

// LoadMappingFile reads an account mapping from a YAML, JSON or TOML file:
//
//	accounts:
//	  - account_number: "8260-1234-5678"
//	    bill_type: MLB
//
// Account numbers are cleaned on load so the file may keep their printed form.
func LoadMappingFile(path string) (StaticMapping, error) {
	const op = "LoadMappingFile"

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, billerr.New(op, billerr.ErrConfiguration, fmt.Sprintf("failed to read %s: %v", path, err))
	}

	var entries []MappingEntry
	if err := v.UnmarshalKey("accounts", &entries); err != nil {
		return nil, billerr.New(op, billerr.ErrConfiguration, fmt.Sprintf("failed to decode accounts in %s: %v", path, err))
	}

	return NewStaticMapping(entries)
}

// NewStaticMapping builds a mapping from entries, rejecting unknown bill
// types and conflicting duplicates.
func NewStaticMapping(entries []MappingEntry) (StaticMapping, error) {
	const op = "NewStaticMapping"

	m := make(StaticMapping, len(entries))
	for i, e := range entries {
		id := CleanIdentifier(e.AccountNumber)
		if id == "" {
			return nil, billerr.New(op, billerr.ErrConfiguration, fmt.Sprintf("entry %d has no account number", i))
		}
		t := models.BillType(strings.ToUpper(strings.TrimSpace(e.BillType)))
		if !t.Valid() {
			return nil, billerr.New(op, billerr.ErrConfiguration, fmt.Sprintf("entry %d (%s) has bill type %q, want SLB or MLB", i, id, e.BillType))
		}
		if prev, ok := m[id]; ok && prev != t {
			return nil, billerr.New(op, billerr.ErrConfiguration, fmt.Sprintf("account %s mapped to both %s and %s", id, prev, t))
		}
		m[id] = t
	}
	return m, nil
}
