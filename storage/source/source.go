package source

import (
	"context"

	"github.com/ryogrid/SemOptDB/storage/table/schema"
	"github.com/ryogrid/SemOptDB/types"
)

// Iterator yields raw rows in a stable order. done is true after the last row.
type Iterator interface {
	Next() (row map[string]types.Value, done bool, err error)
	Close() error
}

// DataSource is a restartable collection of rows. every Scan call starts from
// the first row and yields rows in the same order.
type DataSource interface {
	GetSourceID() string
	GetSchema() *schema.Schema
	Scan(ctx context.Context) (Iterator, error)
	// Cardinality returns the number of rows when it is known
	Cardinality() (int64, bool)
}

type sliceIterator struct {
	ctx  context.Context
	rows []map[string]types.Value
	pos  int
}

func newSliceIterator(ctx context.Context, rows []map[string]types.Value) *sliceIterator {
	return &sliceIterator{ctx, rows, 0}
}

func (it *sliceIterator) Next() (map[string]types.Value, bool, error) {
	if err := it.ctx.Err(); err != nil {
		return nil, true, err
	}
	if it.pos >= len(it.rows) {
		return nil, true, nil
	}
	row := it.rows[it.pos]
	it.pos++
	return row, false, nil
}

func (it *sliceIterator) Close() error {
	return nil
}
