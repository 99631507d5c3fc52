package source

import (
	"context"

	"github.com/ryogrid/SemOptDB/storage/table/schema"
	"github.com/ryogrid/SemOptDB/types"
)

type MemorySource struct {
	sourceID string
	schema_  *schema.Schema
	rows     []map[string]types.Value
}

func NewMemorySource(sourceID string, schema_ *schema.Schema, rows []map[string]types.Value) *MemorySource {
	copied := make([]map[string]types.Value, 0, len(rows))
	for _, row := range rows {
		r := make(map[string]types.Value, len(row))
		for k, v := range row {
			r[k] = v
		}
		copied = append(copied, r)
	}
	return &MemorySource{sourceID, schema_, copied}
}

func (ms *MemorySource) GetSourceID() string {
	return ms.sourceID
}

func (ms *MemorySource) GetSchema() *schema.Schema {
	return ms.schema_
}

func (ms *MemorySource) Scan(ctx context.Context) (Iterator, error) {
	return newSliceIterator(ctx, ms.rows), nil
}

func (ms *MemorySource) Cardinality() (int64, bool) {
	return int64(len(ms.rows)), true
}
