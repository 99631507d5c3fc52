package executors

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/ryogrid/SemOptDB/execution/plans"
	"github.com/ryogrid/SemOptDB/storage/record"
)

// SampleResult is the outcome of running one operator over a sample
type SampleResult struct {
	// PerInput[i] holds the outputs of inputs[i]. blocking operators put
	// their outputs at the last position.
	PerInput [][]*record.Record
	Outputs  []*record.Record
	// inputs whose invocation succeeded
	Succeeded int
	Cost      float64
	Time      time.Duration
}

// RunSample invokes op sequentially on the inputs without retries. batched
// operators get inputs in batches. failed invocations are skipped, fatal
// conditions are returned.
func (e *ExecutionEngine) RunSample(ctx context.Context, op *plans.PhysicalOperator, inputs []*record.Record) (*SampleResult, error) {
	exec, err := e.CreateExecutor(op)
	if err != nil {
		return nil, err
	}
	if err := exec.Init(ctx); err != nil {
		return nil, err
	}
	ret := &SampleResult{PerInput: make([][]*record.Record, len(inputs)), Outputs: make([]*record.Record, 0)}
	timeout := e.context.GetConfig().InvocationTimeout
	chunk := 1
	if op.GetStrategy() == plans.BatchedBondedConvert {
		chunk = op.GetBatchSize()
	}
	position := make(map[ulid.ULID]int, len(inputs))
	for i, in := range inputs {
		position[in.GetID()] = i
	}
	for begin := 0; begin < len(inputs); begin += chunk {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := begin + chunk
		if end > len(inputs) {
			end = len(inputs)
		}
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		start := time.Now()
		res, err := exec.Invoke(attemptCtx, inputs[begin:end])
		measured := time.Since(start)
		cancel()
		if err != nil {
			if isFatal(err) {
				return nil, err
			}
			continue
		}
		elapsed := res.Latency
		if elapsed <= 0 {
			elapsed = measured
		}
		ret.Succeeded += end - begin
		ret.Cost += res.Cost
		ret.Time += elapsed
		for _, out := range res.Outputs {
			idx := begin
			if parents := out.GetProvenance().ParentIDs; len(parents) > 0 {
				if p, ok := position[parents[0]]; ok {
					idx = p
				}
			}
			ret.PerInput[idx] = append(ret.PerInput[idx], out)
		}
		ret.Outputs = append(ret.Outputs, res.Outputs...)
	}
	if blocking, ok := exec.(BlockingExecutor); ok {
		res, err := blocking.Finish(ctx)
		if err != nil {
			return nil, err
		}
		if len(inputs) > 0 {
			last := len(inputs) - 1
			ret.PerInput[last] = append(ret.PerInput[last], res.Outputs...)
		}
		ret.Outputs = append(ret.Outputs, res.Outputs...)
	}
	return ret, nil
}
