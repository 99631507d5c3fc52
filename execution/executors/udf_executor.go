package executors

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/ryogrid/SemOptDB/common"
	"github.com/ryogrid/SemOptDB/execution/plans"
	"github.com/ryogrid/SemOptDB/planner"
	"github.com/ryogrid/SemOptDB/storage/record"
)

// UDFExecutor applies a user function. an error returned by the function
// is retried, an output which does not fit the declared schema aborts the
// execution.
type UDFExecutor struct {
	context *ExecutorContext
	op      *plans.PhysicalOperator
}

func NewUDFExecutor(context *ExecutorContext, op *plans.PhysicalOperator) *UDFExecutor {
	return &UDFExecutor{context, op}
}

func (e *UDFExecutor) GetOperator() *plans.PhysicalOperator {
	return e.op
}

func (e *UDFExecutor) Init(ctx context.Context) error {
	if e.op.GetLogicalOp().GetUDF() == nil {
		return errors.Mark(errors.Newf("%s has no function", e.op.GetName()), common.ErrInvalidPlan)
	}
	return nil
}

func (e *UDFExecutor) Invoke(ctx context.Context, inputs []*record.Record) (*InvocationResult, error) {
	logical := e.op.GetLogicalOp()
	fn := logical.GetUDF()
	ret := &InvocationResult{Outputs: make([]*record.Record, 0, len(inputs))}
	for _, in := range inputs {
		outputs, err := fn(ctx, in)
		if err != nil {
			return nil, errors.Mark(errors.Wrapf(err, "udf %s", logical.GetUDFName()), common.ErrInvocationFailure)
		}
		if logical.GetCardinality() == planner.OneToOne && len(outputs) > 1 {
			return nil, errors.Mark(errors.Newf("one-to-one udf %s returned %d records", logical.GetUDFName(), len(outputs)), common.ErrExecutionAborted)
		}
		for _, values := range outputs {
			out, err := in.Derive(e.op.GetID(), e.op.GetOutputSchema(), values)
			if err != nil {
				return nil, errors.Mark(errors.Wrapf(err, "udf %s", logical.GetUDFName()), common.ErrExecutionAborted)
			}
			ret.Outputs = append(ret.Outputs, out)
		}
	}
	return ret, nil
}
