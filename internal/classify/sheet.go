package classify

import (
	"context"
	"fmt"
	"strings"

	"billextract/internal/billerr"
	"billextract/pkg/models"
)

// RangeReader reads a block of cells, as provided by the sheets service.
type RangeReader interface {
	ReadRange(ctx context.Context, readRange string) ([][]any, error)
}

// LoadSheetMapping reads an account mapping from a spreadsheet range whose
// first column is the account number and second column the bill type
// (SLB/MLB, or a yes/true flag for multiple locations). A header row is skipped.
func LoadSheetMapping(ctx context.Context, reader RangeReader, readRange string) (StaticMapping, error) {
	const op = "LoadSheetMapping"

	rows, err := reader.ReadRange(ctx, readRange)
	if err != nil {
		return nil, billerr.Wrap(op, err, fmt.Sprintf("failed to read %s", readRange))
	}

	var entries []MappingEntry
	for i, row := range rows {
		if len(row) < 2 {
			continue
		}
		account := strings.TrimSpace(fmt.Sprint(row[0]))
		kind := sheetBillType(fmt.Sprint(row[1]))
		if i == 0 && kind == "" {
			continue
		}
		entries = append(entries, MappingEntry{AccountNumber: account, BillType: string(kind)})
	}

	return NewStaticMapping(entries)
}

func sheetBillType(cell string) models.BillType {
	switch strings.ToUpper(strings.TrimSpace(cell)) {
	case "MLB", "YES", "TRUE", "1":
		return models.BillTypeMLB
	case "SLB", "NO", "FALSE", "0":
		return models.BillTypeSLB
	default:
		return ""
	}
}
