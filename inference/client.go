package inference

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ryogrid/SemOptDB/storage/record"
	"github.com/ryogrid/SemOptDB/storage/table/schema"
	"github.com/ryogrid/SemOptDB/types"
)

// ErrUnrecoverable marks client errors which retrying can not fix,
// e.g. rejected credentials. execution is aborted on them.
var ErrUnrecoverable = errors.New("unrecoverable inference error")

type Task int

const (
	// produce attributes of OutputSchema for every input
	GenerateTask Task = iota
	// decide Condition for every input
	JudgeTask
	// produce a Program from Exemplars
	SynthesizeTask
)

func (t Task) String() string {
	switch t {
	case GenerateTask:
		return "generate"
	case JudgeTask:
		return "judge"
	case SynthesizeTask:
		return "synthesize"
	}
	return "unknown"
}

type Exemplar struct {
	Input  *record.Record
	Output map[string]types.Value
}

type Request struct {
	OpID        string
	Task        Task
	Model       string
	Instruction string
	Condition   string
	Inputs      []*record.Record
	// attributes to generate. the whole set of generated attributes when
	// the call is bonded, a single one when it is conventional.
	Fields       []string
	OutputSchema *schema.Schema
	OneToMany    bool
	Exemplars    []Exemplar
}

type Response struct {
	// Outputs[i] holds the attribute maps generated for Inputs[i]
	Outputs [][]map[string]types.Value
	// Passed[i] is the judgement on Inputs[i]
	Passed  []bool
	Program Program
	// USD
	Cost    float64
	Latency time.Duration
}

// Client is the only capability the engine needs from a model provider
type Client interface {
	Invoke(ctx context.Context, req *Request) (*Response, error)
}

// ClientFunc adapts a function to Client
type ClientFunc func(ctx context.Context, req *Request) (*Response, error)

func (f ClientFunc) Invoke(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}
