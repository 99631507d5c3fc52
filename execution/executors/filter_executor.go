package executors

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/ryogrid/SemOptDB/common"
	"github.com/ryogrid/SemOptDB/execution/plans"
	"github.com/ryogrid/SemOptDB/inference"
	"github.com/ryogrid/SemOptDB/storage/record"
)

func passThrough(op *plans.PhysicalOperator, in *record.Record) (*record.Record, error) {
	return in.Derive(op.GetID(), op.GetOutputSchema(), in.Values())
}

// ExpressionFilterExecutor evaluates a parsed predicate locally
type ExpressionFilterExecutor struct {
	context *ExecutorContext
	op      *plans.PhysicalOperator
}

func NewExpressionFilterExecutor(context *ExecutorContext, op *plans.PhysicalOperator) *ExpressionFilterExecutor {
	return &ExpressionFilterExecutor{context, op}
}

func (e *ExpressionFilterExecutor) GetOperator() *plans.PhysicalOperator {
	return e.op
}

func (e *ExpressionFilterExecutor) Init(ctx context.Context) error {
	if e.op.GetLogicalOp().GetPredicate() == nil {
		return errors.Mark(errors.Newf("%s has no predicate", e.op.GetName()), common.ErrInvalidPlan)
	}
	return nil
}

func (e *ExpressionFilterExecutor) Invoke(ctx context.Context, inputs []*record.Record) (*InvocationResult, error) {
	predicate := e.op.GetLogicalOp().GetPredicate()
	ret := &InvocationResult{Outputs: make([]*record.Record, 0, len(inputs))}
	for _, in := range inputs {
		if !predicate.Evaluate(in).ToBoolean() {
			continue
		}
		out, err := passThrough(e.op, in)
		if err != nil {
			return nil, errors.Mark(err, common.ErrExecutionAborted)
		}
		ret.Outputs = append(ret.Outputs, out)
	}
	return ret, nil
}

// LLMFilterExecutor asks a model to judge a natural language condition
type LLMFilterExecutor struct {
	context *ExecutorContext
	op      *plans.PhysicalOperator
}

func NewLLMFilterExecutor(context *ExecutorContext, op *plans.PhysicalOperator) *LLMFilterExecutor {
	return &LLMFilterExecutor{context, op}
}

func (e *LLMFilterExecutor) GetOperator() *plans.PhysicalOperator {
	return e.op
}

func (e *LLMFilterExecutor) Init(ctx context.Context) error {
	if e.context.GetClient() == nil {
		return errors.Mark(errors.Newf("%s needs an inference client", e.op.GetName()), inference.ErrUnrecoverable)
	}
	return nil
}

func (e *LLMFilterExecutor) Invoke(ctx context.Context, inputs []*record.Record) (*InvocationResult, error) {
	resp, err := e.context.GetClient().Invoke(ctx, &inference.Request{
		OpID:      e.op.GetID(),
		Task:      inference.JudgeTask,
		Model:     e.op.GetModel(),
		Condition: e.op.GetLogicalOp().GetFilter().Text,
		Inputs:    inputs,
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Passed) != len(inputs) {
		return nil, errors.Mark(errors.Newf("%s: model returned %d judgements for %d records", e.op.GetName(), len(resp.Passed), len(inputs)), common.ErrInvocationFailure)
	}
	ret := &InvocationResult{Outputs: make([]*record.Record, 0, len(inputs)), Cost: resp.Cost, Latency: resp.Latency}
	for i, in := range inputs {
		if !resp.Passed[i] {
			continue
		}
		out, err := passThrough(e.op, in)
		if err != nil {
			return nil, errors.Mark(err, common.ErrExecutionAborted)
		}
		ret.Outputs = append(ret.Outputs, out)
	}
	return ret, nil
}
