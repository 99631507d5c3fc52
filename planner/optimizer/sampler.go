package optimizer

import (
	"context"
	"math/rand"
	"sort"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/ryogrid/SemOptDB/common"
	"github.com/ryogrid/SemOptDB/execution/executors"
	"github.com/ryogrid/SemOptDB/execution/plans"
	"github.com/ryogrid/SemOptDB/storage/record"
	"github.com/ryogrid/SemOptDB/types"
	"github.com/spaolacci/murmur3"
)

// ValidationSet holds known good answers keyed by source position
type ValidationSet struct {
	// expected attribute values of converted records
	Labels map[int64]map[string]types.Value
	// expected decisions of natural language filters, keyed by condition
	FilterLabels map[string]map[int64]bool
}

func NewValidationSet() *ValidationSet {
	return &ValidationSet{
		Labels:       make(map[int64]map[string]types.Value),
		FilterLabels: make(map[string]map[int64]bool),
	}
}

func (vs *ValidationSet) AddLabel(sourceIndex int64, values map[string]types.Value) {
	vs.Labels[sourceIndex] = values
}

func (vs *ValidationSet) AddFilterLabel(condition string, sourceIndex int64, passed bool) {
	if vs.FilterLabels[condition] == nil {
		vs.FilterLabels[condition] = make(map[int64]bool)
	}
	vs.FilterLabels[condition][sourceIndex] = passed
}

// prefixResult is a sample materialized through a chain of operators
type prefixResult struct {
	records []*record.Record
}

// Sampler runs candidate operators on a bounded deterministic sample of the
// source. it works on an engine without shared state, so sampling neither
// appends statistics nor caches programs. results are memoized by the
// implementation chain, so repeated estimation returns the same values.
type Sampler struct {
	engine *executors.ExecutionEngine
	config *common.Config
	mutex  sync.Mutex
	// keyed by sourceID and the impl tags of the chain
	prefixes map[string]*prefixResult
	samples  map[string]*executors.SampleResult
}

// SamplingCharge is what sampling cost during one optimization
type SamplingCharge struct {
	Cost float64
	// model latency in seconds
	Time float64
}

func (c *SamplingCharge) add(res *executors.SampleResult) {
	if c == nil {
		return
	}
	c.Cost += res.Cost
	c.Time += res.Time.Seconds()
}

func NewSampler(engine *executors.ExecutionEngine, config *common.Config) *Sampler {
	return &Sampler{
		engine:   engine,
		config:   config,
		prefixes: make(map[string]*prefixResult),
		samples:  make(map[string]*executors.SampleResult),
	}
}

func chainKey(ops []*plans.PhysicalOperator) string {
	parts := make([]string, 0, len(ops))
	for _, op := range ops {
		parts = append(parts, op.GetID()+"="+op.GetImplTag())
	}
	return strings.Join(parts, "|")
}

// scanSample draws SampleSize rows with reservoir sampling. the seed depends
// only on the source id and SampleSeed.
func (s *Sampler) scanSample(ctx context.Context, scanOp *plans.PhysicalOperator) ([]*record.Record, error) {
	scan := executors.NewScanExecutor(s.engine.GetContext(), scanOp)
	if err := scan.Init(ctx); err != nil {
		return nil, err
	}
	defer scan.Close()
	seed := int64(murmur3.Sum64([]byte(scanOp.GetLogicalOp().GetSourceID()))) ^ s.config.SampleSeed
	rnd := rand.New(rand.NewSource(seed))
	reservoir := make([]*record.Record, 0, s.config.SampleSize)
	seen := 0
	for {
		r, done, err := scan.Next()
		if err != nil {
			if !done && errors.Is(err, common.ErrSchemaMismatch) {
				continue
			}
			return nil, err
		}
		if done {
			break
		}
		seen++
		if len(reservoir) < s.config.SampleSize {
			reservoir = append(reservoir, r)
			continue
		}
		if j := rnd.Intn(seen); j < s.config.SampleSize {
			reservoir[j] = r
		}
	}
	sort.SliceStable(reservoir, func(i, j int) bool {
		return reservoir[i].GetSourceIndex() < reservoir[j].GetSourceIndex()
	})
	return reservoir, nil
}

// Materialize returns the sample after it passed chain. chain[0] must be
// the scan.
// materialize returns the sample after it passed chain. chain[0] must be
// the scan.
func (s *Sampler) materialize(ctx context.Context, chain []*plans.PhysicalOperator, charge *SamplingCharge) ([]*record.Record, error) {
	key := chainKey(chain)
	if pr, ok := s.prefixes[key]; ok {
		return pr.records, nil
	}
	var records []*record.Record
	if len(chain) == 1 {
		sample, err := s.scanSample(ctx, chain[0])
		if err != nil {
			return nil, err
		}
		records = sample
	} else {
		upstream, err := s.materialize(ctx, chain[:len(chain)-1], charge)
		if err != nil {
			return nil, err
		}
		res, err := s.run(ctx, chain[:len(chain)-1], chain[len(chain)-1], upstream, charge)
		if err != nil {
			return nil, err
		}
		records = res.Outputs
	}
	s.prefixes[key] = &prefixResult{records}
	return records, nil
}

// run charges only samples which are not memoized yet
func (s *Sampler) run(ctx context.Context, upstream []*plans.PhysicalOperator, op *plans.PhysicalOperator, inputs []*record.Record, charge *SamplingCharge) (*executors.SampleResult, error) {
	key := chainKey(append(append([]*plans.PhysicalOperator{}, upstream...), op))
	if res, ok := s.samples[key]; ok {
		return res, nil
	}
	res, err := s.engine.RunSample(ctx, op, inputs)
	if err != nil {
		return nil, err
	}
	charge.add(res)
	s.samples[key] = res
	return res, nil
}

// Run samples op on the output of upstream. the result is marked
// ErrInsufficientData when upstream produces no record. newly run samples
// are added to charge, which may be nil.
func (s *Sampler) Run(ctx context.Context, upstream []*plans.PhysicalOperator, op *plans.PhysicalOperator, charge *SamplingCharge) ([]*record.Record, *executors.SampleResult, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	inputs, err := s.materialize(ctx, upstream, charge)
	if err != nil {
		return nil, nil, err
	}
	if len(inputs) == 0 {
		return nil, nil, errors.Mark(errors.Newf("sample for %s is empty", op.GetName()), common.ErrInsufficientData)
	}
	res, err := s.run(ctx, upstream, op, inputs, charge)
	if err != nil {
		return nil, nil, err
	}
	return inputs, res, nil
}

// Rerun runs op again on the same inputs without memoization. it is used to
// measure agreement across repeated invocations.
func (s *Sampler) Rerun(ctx context.Context, op *plans.PhysicalOperator, inputs []*record.Record, charge *SamplingCharge) (*executors.SampleResult, error) {
	res, err := s.engine.RunSample(ctx, op, inputs)
	if err != nil {
		return nil, err
	}
	charge.add(res)
	return res, nil
}
