package executors

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/ryogrid/SemOptDB/common"
	"github.com/ryogrid/SemOptDB/execution/plans"
	"github.com/ryogrid/SemOptDB/planner"
	"github.com/ryogrid/SemOptDB/storage/record"
	"github.com/ryogrid/SemOptDB/types"
)

/**
 * AggregationExecutor folds every input record into one output record.
 * Invoke only accumulates; the result is produced by Finish.
 */
type AggregationExecutor struct {
	context *ExecutorContext
	op      *plans.PhysicalOperator
	mutex   sync.Mutex
	parents []*record.Record
	count   int64
	sum     float64
	// number of non NULL values of the averaged attribute
	valued int64
}

func NewAggregationExecutor(context *ExecutorContext, op *plans.PhysicalOperator) *AggregationExecutor {
	return &AggregationExecutor{context: context, op: op, parents: make([]*record.Record, 0)}
}

func (e *AggregationExecutor) GetOperator() *plans.PhysicalOperator {
	return e.op
}

func (e *AggregationExecutor) Init(ctx context.Context) error {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	e.parents = e.parents[:0]
	e.count = 0
	e.sum = 0
	e.valued = 0
	return nil
}

func (e *AggregationExecutor) Invoke(ctx context.Context, inputs []*record.Record) (*InvocationResult, error) {
	logical := e.op.GetLogicalOp()
	e.mutex.Lock()
	defer e.mutex.Unlock()
	for _, in := range inputs {
		e.parents = append(e.parents, in)
		e.count++
		if logical.GetAggregateFunc() != planner.AverageAgg {
			continue
		}
		val, ok := in.GetValue(logical.GetAggregateField())
		if !ok {
			return nil, errors.Mark(errors.Newf("attribute %s is missing at run time", logical.GetAggregateField()), common.ErrExecutionAborted)
		}
		if num, isNum := val.ToNumeric(); isNum && !val.IsNull() {
			e.sum += num
			e.valued++
		}
	}
	return &InvocationResult{Outputs: []*record.Record{}}, nil
}

func (e *AggregationExecutor) Finish(ctx context.Context) (*InvocationResult, error) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	values := make(map[string]types.Value)
	if e.op.GetLogicalOp().GetAggregateFunc() == planner.AverageAgg {
		if e.valued > 0 {
			values[planner.AverageColumnName] = types.NewFloat(e.sum / float64(e.valued))
		}
	} else {
		values[planner.CountColumnName] = types.NewInteger(e.count)
	}
	out, err := record.DeriveFromMany(e.op.GetID(), e.op.GetOutputSchema(), values, e.parents)
	if err != nil {
		return nil, errors.Mark(err, common.ErrExecutionAborted)
	}
	return &InvocationResult{Outputs: []*record.Record{out}}, nil
}
