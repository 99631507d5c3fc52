package executors

import (
	"context"
	"time"

	"github.com/ryogrid/SemOptDB/execution/plans"
	"github.com/ryogrid/SemOptDB/storage/record"
)

// InvocationResult is the outcome of one successful invocation
type InvocationResult struct {
	Outputs []*record.Record
	// USD
	Cost float64
	// reported by the inference capability. zero means the engine
	// uses the measured wall time.
	Latency time.Duration
}

// Executor runs one physical operator
//
// Init prepares the executor. it must be called before Invoke.
//
// Invoke maps one input record (or a batch for batched strategies) to zero,
// one or many output records. it may be called concurrently.
type Executor interface {
	GetOperator() *plans.PhysicalOperator
	Init(ctx context.Context) error
	Invoke(ctx context.Context, inputs []*record.Record) (*InvocationResult, error)
}

// BlockingExecutor emits its outputs only after all inputs are consumed
type BlockingExecutor interface {
	Executor
	Finish(ctx context.Context) (*InvocationResult, error)
}
