package dataset

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/malbeclabs/stakeapy/apy/pkg/clickhouse"
)

// TypedFactDataset writes and reads rows of struct type T. Fields are matched to
// columns by `ch:"column"` tag, or by their snake_case name.
type TypedFactDataset[T any] struct {
	dataset *FactDataset
}

func NewTypedFactDataset[T any](dataset *FactDataset) *TypedFactDataset[T] {
	return &TypedFactDataset[T]{dataset: dataset}
}

func (t *TypedFactDataset[T]) TableName() string {
	return t.dataset.TableName()
}

func (t *TypedFactDataset[T]) WriteBatch(ctx context.Context, conn clickhouse.Connection, rows []T) error {
	if len(rows) == 0 {
		return nil
	}
	fieldMap, err := buildFieldMap[T]()
	if err != nil {
		return fmt.Errorf("failed to build field map: %w", err)
	}
	for _, col := range t.dataset.cols {
		if _, ok := fieldMap[col]; !ok {
			return fmt.Errorf("column %q of %s has no matching field in %T", col, t.dataset.TableName(), rows[0])
		}
	}

	return t.dataset.WriteBatch(ctx, conn, len(rows), func(i int) ([]any, error) {
		v := reflect.ValueOf(rows[i])
		values := make([]any, 0, len(t.dataset.cols))
		for _, col := range t.dataset.cols {
			values = append(values, extractFieldValue(v.Field(fieldMap[col])))
		}
		return values, nil
	})
}

// GetRows returns the rows matching where (without the WHERE keyword), in
// orderBy order. Both are optional.
func (t *TypedFactDataset[T]) GetRows(ctx context.Context, conn clickhouse.Connection, where, orderBy string, args ...any) ([]T, error) {
	query := fmt.Sprintf("SELECT %s FROM %s", joinColumns(t.dataset.cols), t.dataset.TableName())
	if where != "" {
		query += " WHERE " + where
	}
	if orderBy != "" {
		query += " ORDER BY " + orderBy
	}

	rows, err := conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", t.dataset.TableName(), err)
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		var row T
		if err := rows.ScanStruct(&row); err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", t.dataset.TableName(), err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate %s rows: %w", t.dataset.TableName(), err)
	}
	return out, nil
}

func buildFieldMap[T any]() (map[string]int, error) {
	var zero T
	typ := reflect.TypeOf(zero)
	if typ == nil || typ.Kind() != reflect.Struct {
		return nil, fmt.Errorf("type %T must be a struct", zero)
	}

	fieldMap := make(map[string]int, typ.NumField())
	for i := range typ.NumField() {
		field := typ.Field(i)
		if !field.IsExported() {
			continue
		}
		if tag := field.Tag.Get("ch"); tag != "" {
			fieldMap[strings.ToLower(tag)] = i
			continue
		}
		fieldMap[camelToSnake(field.Name)] = i
	}
	return fieldMap, nil
}

// extractFieldValue dereferences pointers; nil pointers become nil values.
func extractFieldValue(v reflect.Value) any {
	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return nil
		}
		v = v.Elem()
	}
	return v.Interface()
}

func camelToSnake(s string) string {
	var result strings.Builder
	for i, r := range s {
		if i > 0 && r >= 'A' && r <= 'Z' {
			result.WriteByte('_')
		}
		result.WriteRune(r)
	}
	return strings.ToLower(result.String())
}
