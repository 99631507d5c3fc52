package executors

import (
	"context"
	"sync"
	"time"

	"github.com/ryogrid/SemOptDB/common"
	"github.com/ryogrid/SemOptDB/execution/plans"
	"github.com/ryogrid/SemOptDB/inference"
	"github.com/ryogrid/SemOptDB/storage/record"
	"github.com/ryogrid/SemOptDB/types"
)

// ProgramCache keeps synthesized programs across executions, keyed by
// operation id and implementation tag
type ProgramCache struct {
	mutex    sync.Mutex
	programs map[string]inference.Program
}

func NewProgramCache() *ProgramCache {
	return &ProgramCache{programs: make(map[string]inference.Program)}
}

func programKey(op *plans.PhysicalOperator) string {
	return op.GetID() + "/" + op.GetImplTag()
}

func (pc *ProgramCache) Get(op *plans.PhysicalOperator) (inference.Program, bool) {
	pc.mutex.Lock()
	defer pc.mutex.Unlock()
	p, ok := pc.programs[programKey(op)]
	return p, ok
}

func (pc *ProgramCache) Put(op *plans.PhysicalOperator, p inference.Program) {
	pc.mutex.Lock()
	defer pc.mutex.Unlock()
	pc.programs[programKey(op)] = p
}

// CodeSynthesisConvertExecutor converts the first records with bonded calls
// and keeps them as exemplars. once enough exemplars exist a program is
// synthesized and applied to the remaining records. attributes the program
// can not resolve are generated conventionally.
type CodeSynthesisConvertExecutor struct {
	llmConvertBase
	mutex        sync.Mutex
	exemplars    []inference.Exemplar
	synthesizing bool
	program      inference.Program
}

func NewCodeSynthesisConvertExecutor(context *ExecutorContext, op *plans.PhysicalOperator) *CodeSynthesisConvertExecutor {
	return &CodeSynthesisConvertExecutor{llmConvertBase: newLLMConvertBase(context, op)}
}

func (e *CodeSynthesisConvertExecutor) Init(ctx context.Context) error {
	if err := e.llmConvertBase.Init(ctx); err != nil {
		return err
	}
	if cache := e.context.GetProgramCache(); cache != nil {
		if p, ok := cache.Get(e.op); ok {
			e.program = p
		}
	}
	return nil
}

func (e *CodeSynthesisConvertExecutor) getProgram() inference.Program {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.program
}

func (e *CodeSynthesisConvertExecutor) Invoke(ctx context.Context, inputs []*record.Record) (*InvocationResult, error) {
	ret := &InvocationResult{Outputs: make([]*record.Record, 0, len(inputs))}
	for _, in := range inputs {
		var generated []map[string]types.Value
		if program := e.getProgram(); program != nil {
			values, unresolved := program.Apply(in, e.op.GetOutputSchema(), e.fields)
			generated = []map[string]types.Value{values}
			if len(unresolved) > 0 {
				fixed, cost, latency, err := e.conventional(ctx, e.op.GetFallbackModel(), in, unresolved)
				if err != nil {
					return nil, err
				}
				ret.Cost += cost
				ret.Latency += latency
				for k, v := range fixed[0] {
					values[k] = v
				}
			}
		} else {
			answers, cost, latency, err := e.bonded(ctx, e.op.GetModel(), []*record.Record{in})
			if err != nil {
				return nil, err
			}
			ret.Cost += cost
			ret.Latency += latency
			generated = answers[0]
			if len(generated) > 0 {
				scost, slatency, err := e.addExemplar(ctx, in, generated[0])
				if err != nil {
					return nil, err
				}
				ret.Cost += scost
				ret.Latency += slatency
			}
		}
		outs, err := deriveOutputs(e.op, in, generated)
		if err != nil {
			return nil, err
		}
		ret.Outputs = append(ret.Outputs, outs...)
	}
	return ret, nil
}

// addExemplar synthesizes the program when the exemplar count is reached.
// only one invocation synthesizes.
func (e *CodeSynthesisConvertExecutor) addExemplar(ctx context.Context, in *record.Record, out map[string]types.Value) (float64, time.Duration, error) {
	e.mutex.Lock()
	if e.program != nil || e.synthesizing {
		e.mutex.Unlock()
		return 0, 0, nil
	}
	e.exemplars = append(e.exemplars, inference.Exemplar{Input: in, Output: out})
	if len(e.exemplars) < e.context.GetConfig().CodeSynthExemplars {
		e.mutex.Unlock()
		return 0, 0, nil
	}
	e.synthesizing = true
	exemplars := append([]inference.Exemplar{}, e.exemplars...)
	e.mutex.Unlock()

	resp, err := e.context.GetClient().Invoke(ctx, &inference.Request{
		OpID:         e.op.GetID(),
		Task:         inference.SynthesizeTask,
		Model:        e.op.GetModel(),
		Instruction:  e.op.GetLogicalOp().GetDesc(),
		Fields:       e.fields,
		OutputSchema: e.op.GetOutputSchema(),
		Exemplars:    exemplars,
	})

	e.mutex.Lock()
	defer e.mutex.Unlock()
	e.synthesizing = false
	if err != nil {
		// the exemplar output is already produced, synthesis is tried again
		// on the next exemplar
		common.ShPrintf(common.WARN, "%s: program synthesis failed: %v\n", e.op.GetName(), err)
		return 0, 0, nil
	}
	program := resp.Program
	if program == nil {
		program = make(inference.Program)
	}
	e.program = program
	if cache := e.context.GetProgramCache(); cache != nil {
		cache.Put(e.op, program)
	}
	common.ShPrintf(common.DEBUG_INFO, "%s: synthesized program %v\n", e.op.GetName(), program)
	return resp.Cost, resp.Latency, nil
}
