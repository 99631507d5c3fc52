// this code is from https://github.com/brunocalza/go-bustub
// there is license and copyright notice in licenses/go-bustub dir

package executors

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/ryogrid/SemOptDB/catalog"
	"github.com/ryogrid/SemOptDB/common"
	"github.com/ryogrid/SemOptDB/execution/plans"
	"github.com/ryogrid/SemOptDB/storage/record"
	"github.com/ryogrid/SemOptDB/storage/source"
)

/**
 * ScanExecutor reads every row of a registered source and marshals it into
 * a record. It is the stream source of a plan, so Next is used instead of Invoke.
 */
type ScanExecutor struct {
	context        *ExecutorContext
	op             *plans.PhysicalOperator
	sourceMetadata *catalog.SourceMetadata
	it             source.Iterator
	idx            int64
}

func NewScanExecutor(context *ExecutorContext, op *plans.PhysicalOperator) *ScanExecutor {
	return &ScanExecutor{context: context, op: op}
}

func (e *ScanExecutor) GetOperator() *plans.PhysicalOperator {
	return e.op
}

// Init opens a fresh iterator, so a plan can be re-executed from the beginning
func (e *ScanExecutor) Init(ctx context.Context) error {
	sourceID := e.op.GetLogicalOp().GetSourceID()
	metadata, err := e.context.GetCatalog().GetSourceByName(sourceID)
	if err != nil {
		return err
	}
	if !metadata.Schema().Equals(e.op.GetOutputSchema()) {
		return errors.Mark(errors.Newf("source %s schema %s differs from planned schema %s",
			sourceID, metadata.Schema(), e.op.GetOutputSchema()), common.ErrSchemaMismatch)
	}
	it, err := metadata.Source().Scan(ctx)
	if err != nil {
		return errors.Wrapf(err, "scan of %s", sourceID)
	}
	e.sourceMetadata = metadata
	e.it = it
	e.idx = 0
	return nil
}

// Next returns the next record. a row which does not conform to the source
// schema is returned as an error marked ErrSchemaMismatch and the scan can
// continue. other errors end the scan.
func (e *ScanExecutor) Next() (*record.Record, bool, error) {
	values, done, err := e.it.Next()
	if err != nil {
		return nil, done, err
	}
	if done {
		return nil, true, nil
	}
	idx := e.idx
	e.idx++
	r, err := record.NewSourceRecord(e.sourceMetadata.Source().GetSourceID(), idx, e.op.GetID(), e.op.GetOutputSchema(), values)
	if err != nil {
		return nil, false, errors.Wrapf(err, "row %d of %s", idx, e.sourceMetadata.Source().GetSourceID())
	}
	return r, false, nil
}

// Invoke is not used for a scan
func (e *ScanExecutor) Invoke(ctx context.Context, inputs []*record.Record) (*InvocationResult, error) {
	return nil, errors.AssertionFailedf("scan executor %s can not be invoked", e.op.GetID())
}

func (e *ScanExecutor) Close() error {
	if e.it == nil {
		return nil
	}
	return e.it.Close()
}
