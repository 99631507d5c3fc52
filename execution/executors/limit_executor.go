package executors

import (
	"context"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/ryogrid/SemOptDB/common"
	"github.com/ryogrid/SemOptDB/execution/plans"
	"github.com/ryogrid/SemOptDB/storage/record"
)

// LimitExecutor passes the first k records. the engine stops upstream
// stages once Reached returns true.
type LimitExecutor struct {
	context *ExecutorContext
	op      *plans.PhysicalOperator
	emitted atomic.Int64 // compared to the LIMIT
}

func NewLimitExecutor(context *ExecutorContext, op *plans.PhysicalOperator) *LimitExecutor {
	return &LimitExecutor{context: context, op: op}
}

func (e *LimitExecutor) GetOperator() *plans.PhysicalOperator {
	return e.op
}

func (e *LimitExecutor) Init(ctx context.Context) error {
	e.emitted.Store(0)
	return nil
}

func (e *LimitExecutor) Invoke(ctx context.Context, inputs []*record.Record) (*InvocationResult, error) {
	limit := e.op.GetLogicalOp().GetLimit()
	ret := &InvocationResult{Outputs: make([]*record.Record, 0, len(inputs))}
	for _, in := range inputs {
		if e.emitted.Add(1) > limit {
			break
		}
		out, err := passThrough(e.op, in)
		if err != nil {
			return nil, errors.Mark(err, common.ErrExecutionAborted)
		}
		ret.Outputs = append(ret.Outputs, out)
	}
	return ret, nil
}

func (e *LimitExecutor) Reached() bool {
	return e.emitted.Load() >= e.op.GetLogicalOp().GetLimit()
}
