package executors

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ryogrid/SemOptDB/common"
	"github.com/ryogrid/SemOptDB/execution/plans"
	"github.com/ryogrid/SemOptDB/inference"
	"github.com/ryogrid/SemOptDB/planner"
	"github.com/ryogrid/SemOptDB/storage/record"
	"github.com/ryogrid/SemOptDB/types"
)

// copiedValues returns the input attributes which the output schema keeps
func copiedValues(op *plans.PhysicalOperator, in *record.Record) map[string]types.Value {
	ret := make(map[string]types.Value)
	for _, col := range op.GetOutputSchema().GetColumns() {
		if !op.GetInputSchema().IsHaveColumn(col.GetColumnName()) {
			continue
		}
		if val, ok := in.GetValue(col.GetColumnName()); ok {
			ret[col.GetColumnName()] = val
		}
	}
	return ret
}

// deriveOutputs builds output records of in from generated attribute maps.
// a model answer which does not fit the output schema is an invocation
// failure, so the engine retries it.
func deriveOutputs(op *plans.PhysicalOperator, in *record.Record, generated []map[string]types.Value) ([]*record.Record, error) {
	if op.GetLogicalOp().GetCardinality() == planner.OneToOne {
		if len(generated) == 0 {
			return nil, errors.Mark(errors.Newf("%s: model returned no answer for %s", op.GetName(), in.GetID()), common.ErrInvocationFailure)
		}
		generated = generated[:1]
	}
	ret := make([]*record.Record, 0, len(generated))
	for _, gen := range generated {
		values := copiedValues(op, in)
		for k, v := range gen {
			values[k] = v
		}
		out, err := in.Derive(op.GetID(), op.GetOutputSchema(), values)
		if err != nil {
			return nil, errors.Mark(errors.Wrapf(err, "output of %s", op.GetName()), common.ErrInvocationFailure)
		}
		ret = append(ret, out)
	}
	return ret, nil
}

func missingRequired(op *plans.PhysicalOperator, gen map[string]types.Value, fields []string) []string {
	ret := make([]string, 0)
	for _, f := range fields {
		col, _ := op.GetOutputSchema().GetColumnByName(f)
		if v, ok := gen[f]; (!ok || v.IsNull()) && col != nil && col.IsRequired() {
			ret = append(ret, f)
		}
	}
	return ret
}

func checkResponse(op *plans.PhysicalOperator, resp *inference.Response, inputs int) error {
	if resp == nil || len(resp.Outputs) != inputs {
		return errors.Mark(errors.Newf("%s: model returned a malformed answer", op.GetName()), common.ErrInvocationFailure)
	}
	return nil
}

func (e *llmConvertBase) request(model string, inputs []*record.Record, fields []string) *inference.Request {
	logical := e.op.GetLogicalOp()
	return &inference.Request{
		OpID:         e.op.GetID(),
		Task:         inference.GenerateTask,
		Model:        model,
		Instruction:  logical.GetDesc(),
		Inputs:       inputs,
		Fields:       fields,
		OutputSchema: e.op.GetOutputSchema(),
		OneToMany:    logical.GetCardinality() == planner.OneToMany,
	}
}

// SimpleConvertExecutor converts without a model. every output attribute
// exists in the input.
type SimpleConvertExecutor struct {
	context *ExecutorContext
	op      *plans.PhysicalOperator
}

func NewSimpleConvertExecutor(context *ExecutorContext, op *plans.PhysicalOperator) *SimpleConvertExecutor {
	return &SimpleConvertExecutor{context, op}
}

func (e *SimpleConvertExecutor) GetOperator() *plans.PhysicalOperator {
	return e.op
}

func (e *SimpleConvertExecutor) Init(ctx context.Context) error {
	if len(e.op.GetLogicalOp().GeneratedColumnNames()) > 0 {
		return errors.Mark(errors.Newf("%s can not generate %v", e.op.GetName(), e.op.GetLogicalOp().GeneratedColumnNames()), common.ErrSchemaMismatch)
	}
	return nil
}

func (e *SimpleConvertExecutor) Invoke(ctx context.Context, inputs []*record.Record) (*InvocationResult, error) {
	ret := &InvocationResult{Outputs: make([]*record.Record, 0, len(inputs))}
	for _, in := range inputs {
		out, err := in.Derive(e.op.GetID(), e.op.GetOutputSchema(), copiedValues(e.op, in))
		if err != nil {
			// a required input attribute holds NULL
			return nil, errors.Mark(err, common.ErrInvocationFailure)
		}
		ret.Outputs = append(ret.Outputs, out)
	}
	return ret, nil
}

type llmConvertBase struct {
	context *ExecutorContext
	op      *plans.PhysicalOperator
	fields  []string
}

func newLLMConvertBase(context *ExecutorContext, op *plans.PhysicalOperator) llmConvertBase {
	return llmConvertBase{context, op, op.GetLogicalOp().GeneratedColumnNames()}
}

func (e *llmConvertBase) GetOperator() *plans.PhysicalOperator {
	return e.op
}

func (e *llmConvertBase) Init(ctx context.Context) error {
	if e.context.GetClient() == nil {
		return errors.Mark(errors.Newf("%s needs an inference client", e.op.GetName()), inference.ErrUnrecoverable)
	}
	return nil
}

// bonded generates every field with one call for all inputs
func (e *llmConvertBase) bonded(ctx context.Context, model string, inputs []*record.Record) ([][]map[string]types.Value, float64, time.Duration, error) {
	resp, err := e.context.GetClient().Invoke(ctx, e.request(model, inputs, e.fields))
	if err != nil {
		return nil, 0, 0, err
	}
	if err := checkResponse(e.op, resp, len(inputs)); err != nil {
		return nil, 0, 0, err
	}
	return resp.Outputs, resp.Cost, resp.Latency, nil
}

// conventional generates fields one by one for a single input. list valued
// answers of different fields are combined by position.
func (e *llmConvertBase) conventional(ctx context.Context, model string, in *record.Record, fields []string) ([]map[string]types.Value, float64, time.Duration, error) {
	perField := make(map[string][]map[string]types.Value, len(fields))
	cost := 0.0
	var latency time.Duration
	n := 1
	for _, f := range fields {
		resp, err := e.context.GetClient().Invoke(ctx, e.request(model, []*record.Record{in}, []string{f}))
		if err != nil {
			return nil, 0, 0, err
		}
		if err := checkResponse(e.op, resp, 1); err != nil {
			return nil, 0, 0, err
		}
		cost += resp.Cost
		latency += resp.Latency
		perField[f] = resp.Outputs[0]
		if len(resp.Outputs[0]) > n {
			n = len(resp.Outputs[0])
		}
	}
	ret := make([]map[string]types.Value, n)
	for i := 0; i < n; i++ {
		ret[i] = make(map[string]types.Value, len(fields))
		for f, answers := range perField {
			if len(answers) == 0 {
				continue
			}
			if v, ok := answers[i%len(answers)][f]; ok {
				ret[i][f] = v
			}
		}
	}
	return ret, cost, latency, nil
}

// LLMConvertBondedExecutor generates all attributes of a record with one call
type LLMConvertBondedExecutor struct {
	llmConvertBase
}

func NewLLMConvertBondedExecutor(context *ExecutorContext, op *plans.PhysicalOperator) *LLMConvertBondedExecutor {
	return &LLMConvertBondedExecutor{newLLMConvertBase(context, op)}
}

func (e *LLMConvertBondedExecutor) Invoke(ctx context.Context, inputs []*record.Record) (*InvocationResult, error) {
	generated, cost, latency, err := e.bonded(ctx, e.op.GetModel(), inputs)
	if err != nil {
		return nil, err
	}
	ret := &InvocationResult{Outputs: make([]*record.Record, 0, len(inputs)), Cost: cost, Latency: latency}
	for i, in := range inputs {
		outs, err := deriveOutputs(e.op, in, generated[i])
		if err != nil {
			return nil, err
		}
		ret.Outputs = append(ret.Outputs, outs...)
	}
	return ret, nil
}

// BatchedBondedConvertExecutor is the bonded strategy over several records
// per call. it is run with batches by the engine.
type BatchedBondedConvertExecutor struct {
	LLMConvertBondedExecutor
}

func NewBatchedBondedConvertExecutor(context *ExecutorContext, op *plans.PhysicalOperator) *BatchedBondedConvertExecutor {
	return &BatchedBondedConvertExecutor{LLMConvertBondedExecutor{newLLMConvertBase(context, op)}}
}

// LLMConvertConventionalExecutor asks one attribute per call
type LLMConvertConventionalExecutor struct {
	llmConvertBase
}

func NewLLMConvertConventionalExecutor(context *ExecutorContext, op *plans.PhysicalOperator) *LLMConvertConventionalExecutor {
	return &LLMConvertConventionalExecutor{newLLMConvertBase(context, op)}
}

func (e *LLMConvertConventionalExecutor) Invoke(ctx context.Context, inputs []*record.Record) (*InvocationResult, error) {
	ret := &InvocationResult{Outputs: make([]*record.Record, 0, len(inputs))}
	for _, in := range inputs {
		generated, cost, latency, err := e.conventional(ctx, e.op.GetModel(), in, e.fields)
		if err != nil {
			return nil, err
		}
		ret.Cost += cost
		ret.Latency += latency
		outs, err := deriveOutputs(e.op, in, generated)
		if err != nil {
			return nil, err
		}
		ret.Outputs = append(ret.Outputs, outs...)
	}
	return ret, nil
}

// LLMConvertBondedWithFallbackExecutor makes a bonded call and asks the
// fallback model for required attributes which the bonded answer lacks
type LLMConvertBondedWithFallbackExecutor struct {
	llmConvertBase
}

func NewLLMConvertBondedWithFallbackExecutor(context *ExecutorContext, op *plans.PhysicalOperator) *LLMConvertBondedWithFallbackExecutor {
	return &LLMConvertBondedWithFallbackExecutor{newLLMConvertBase(context, op)}
}

func (e *LLMConvertBondedWithFallbackExecutor) Invoke(ctx context.Context, inputs []*record.Record) (*InvocationResult, error) {
	generated, cost, latency, err := e.bonded(ctx, e.op.GetModel(), inputs)
	if err != nil {
		return nil, err
	}
	ret := &InvocationResult{Outputs: make([]*record.Record, 0, len(inputs)), Cost: cost, Latency: latency}
	for i, in := range inputs {
		// the response belongs to the client
		answers := append([]map[string]types.Value{}, generated[i]...)
		for j, gen := range answers {
			missing := missingRequired(e.op, gen, e.fields)
			if len(missing) == 0 {
				continue
			}
			common.ShPrintf(common.DEBUG_INFO, "%s: fallback to %s for %v\n", e.op.GetName(), e.op.GetFallbackModel(), missing)
			fixed, fcost, flatency, err := e.conventional(ctx, e.op.GetFallbackModel(), in, missing)
			if err != nil {
				return nil, err
			}
			ret.Cost += fcost
			ret.Latency += flatency
			merged := make(map[string]types.Value, len(gen))
			for k, v := range gen {
				merged[k] = v
			}
			if len(fixed) > 0 {
				for k, v := range fixed[j%len(fixed)] {
					merged[k] = v
				}
			}
			answers[j] = merged
		}
		outs, err := deriveOutputs(e.op, in, answers)
		if err != nil {
			return nil, err
		}
		ret.Outputs = append(ret.Outputs, outs...)
	}
	return ret, nil
}
