package dataset

import (
	"fmt"
	"log/slog"
	"strings"
)

type FactDataset struct {
	log    *slog.Logger
	schema FactSchema
	cols   []string
}

func NewFactDataset(log *slog.Logger, schema FactSchema) (*FactDataset, error) {
	cols, err := extractColumnNames(schema.Columns())
	if err != nil {
		return nil, fmt.Errorf("failed to extract columns: %w", err)
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("dataset %q has no columns", schema.Name())
	}
	return &FactDataset{log: log, schema: schema, cols: cols}, nil
}

func (f *FactDataset) TableName() string {
	return "fact_" + f.schema.Name()
}

// Columns returns the column names in insert order.
func (f *FactDataset) Columns() []string {
	return f.cols
}

// extractColumnNames extracts column names from a slice of "name:type" strings.
func extractColumnNames(colDefs []string) ([]string, error) {
	names := make([]string, 0, len(colDefs))
	for _, colDef := range colDefs {
		name, _, ok := strings.Cut(colDef, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid column definition %q: expected format 'name:type'", colDef)
		}
		names = append(names, name)
	}
	return names, nil
}
