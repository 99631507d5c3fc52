package optimizer

import (
	"context"
	"math"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/ryogrid/SemOptDB/catalog"
	"github.com/ryogrid/SemOptDB/common"
	"github.com/ryogrid/SemOptDB/execution/executors"
	"github.com/ryogrid/SemOptDB/execution/plans"
	"github.com/ryogrid/SemOptDB/inference"
	"github.com/ryogrid/SemOptDB/planner"
	"github.com/ryogrid/SemOptDB/storage/record"
	"github.com/ryogrid/SemOptDB/types"
)

type EstimateSource int

const (
	NaiveEstimate EstimateSource = iota
	HistoricalEstimate
	SampledEstimate
)

func (s EstimateSource) String() string {
	switch s {
	case HistoricalEstimate:
		return "historical"
	case SampledEstimate:
		return "sampled"
	}
	return "naive"
}

const (
	// per record time of operators which run locally, seconds
	localTimePerRecord = 0.0005
	// outputs per input of a one-to-many convert before anything is observed
	oneToManyFanout = 2.0
	// share of a bonded call a single attribute call costs
	conventionalCallShare = 0.5
	batchCostFactor       = 0.8
	batchLatencyFactor    = 0.25
	batchQualityFactor    = 0.97
	synthesizeCostFactor  = 10.0
	synthesizeTimeFactor  = 3.0
)

// CostModel estimates per record cost, time, quality and selectivity of
// physical operators
type CostModel struct {
	config   *common.Config
	registry *inference.ModelRegistry
	snapshot *catalog.StatsSnapshot
	// nil when sampling is disabled
	sampler    *Sampler
	validation *ValidationSet
	// shared by the copies WithSnapshot returns
	mutex *sync.Mutex
	memo  map[string]estimateMemo
}

type estimateMemo struct {
	est    plans.OperatorEstimate
	source EstimateSource
}

func NewCostModel(config *common.Config, registry *inference.ModelRegistry, snapshot *catalog.StatsSnapshot, sampler *Sampler, validation *ValidationSet) *CostModel {
	return &CostModel{
		config:     config,
		registry:   registry,
		snapshot:   snapshot,
		sampler:    sampler,
		validation: validation,
		mutex:      new(sync.Mutex),
		memo:       make(map[string]estimateMemo),
	}
}

// WithSnapshot returns a cost model reading history from snapshot. sampled
// estimates are shared with the receiver.
func (cm *CostModel) WithSnapshot(snapshot *catalog.StatsSnapshot) *CostModel {
	ret := *cm
	ret.snapshot = snapshot
	return &ret
}

func (cm *CostModel) card(model string) inference.ModelCard {
	card, err := cm.registry.GetModelCard(model)
	if err != nil {
		return inference.ModelCard{Name: model}
	}
	return card
}

// Naive estimates op from model cards. inputCard is the expected number of
// input records, used to amortize per operator costs.
func (cm *CostModel) Naive(op *plans.PhysicalOperator, inputCard float64) plans.OperatorEstimate {
	if inputCard < 1 {
		inputCard = 1
	}
	logical := op.GetLogicalOp()
	est := plans.OperatorEstimate{TimePerRecord: localTimePerRecord, Quality: 1.0, Selectivity: 1.0}
	fields := float64(len(logical.GeneratedColumnNames()))
	if logical.GetType() == planner.ConvertOp && logical.GetCardinality() == planner.OneToMany {
		est.Selectivity = oneToManyFanout
	}
	model := cm.card(op.GetModel())
	switch op.GetStrategy() {
	case plans.MarshalAndScan, plans.SimpleConvert, plans.ApplyUDF:
	case plans.ExpressionFilter:
		est.Selectivity = cm.config.DefaultSelectivity
	case plans.CountAggregate, plans.AverageAggregate:
		est.Selectivity = 1.0 / inputCard
	case plans.LimitStrategy:
		est.Selectivity = math.Min(1.0, float64(logical.GetLimit())/inputCard)
	case plans.LLMFilter:
		est.CostPerRecord = model.CostPerRecord
		est.TimePerRecord = model.SecondsPerRecord
		est.Quality = model.Quality
		est.Selectivity = cm.config.DefaultSelectivity
	case plans.LLMConvertBonded:
		est.CostPerRecord = model.CostPerRecord
		est.TimePerRecord = model.SecondsPerRecord
		est.Quality = model.Quality
	case plans.LLMConvertConventional:
		est.CostPerRecord = fields * conventionalCallShare * model.CostPerRecord
		est.TimePerRecord = fields * conventionalCallShare * model.SecondsPerRecord
		est.Quality = model.Quality
	case plans.LLMConvertBondedWithFallback:
		fallback := cm.card(op.GetFallbackModel())
		miss := 1 - model.Quality
		est.CostPerRecord = model.CostPerRecord + miss*fields*conventionalCallShare*fallback.CostPerRecord
		est.TimePerRecord = model.SecondsPerRecord + miss*fields*conventionalCallShare*fallback.SecondsPerRecord
		est.Quality = model.Quality
	case plans.BatchedBondedConvert:
		b := float64(op.GetBatchSize())
		est.CostPerRecord = model.CostPerRecord * batchCostFactor
		est.TimePerRecord = model.SecondsPerRecord * (1 + batchLatencyFactor*(b-1)) / b
		est.Quality = model.Quality * batchQualityFactor
	case plans.CodeSynthesisConvert:
		// exemplars and synthesis are paid once and spread over the input,
		// attributes a program misses go to conventional calls
		exemplars := math.Min(float64(cm.config.CodeSynthExemplars), inputCard)
		upfrontCost := exemplars*model.CostPerRecord + synthesizeCostFactor*model.CostPerRecord
		upfrontTime := exemplars*model.SecondsPerRecord + synthesizeTimeFactor*model.SecondsPerRecord
		miss := 1 - model.CodeQuality
		est.CostPerRecord = upfrontCost/inputCard + miss*fields*conventionalCallShare*model.CostPerRecord
		est.TimePerRecord = upfrontTime/inputCard + miss*fields*conventionalCallShare*model.SecondsPerRecord
		est.Quality = model.CodeQuality + miss*model.Quality
	}
	return est
}

// historical smooths observed means toward naive with LaplacePriorWeight
// pseudo observations
func (cm *CostModel) historical(op *plans.PhysicalOperator, naive plans.OperatorEstimate) (plans.OperatorEstimate, bool) {
	if cm.snapshot == nil {
		return naive, false
	}
	obs, ok := cm.snapshot.Lookup(op.GetKind().String(), op.GetImplTag())
	if !ok || obs.InputCount == 0 {
		return naive, false
	}
	w := cm.config.LaplacePriorWeight
	n := float64(obs.InputCount)
	est := naive
	est.CostPerRecord = (obs.CostSum + w*naive.CostPerRecord) / (n + w)
	est.TimePerRecord = (obs.TimeSum + w*naive.TimePerRecord) / (n + w)
	if obs.QualityCount > 0 {
		est.Quality = (obs.QualitySum + w*naive.Quality) / (float64(obs.QualityCount) + w)
	}
	switch op.GetKind() {
	case planner.AggregateOp, planner.LimitOp:
		// depends on the input size, not on the implementation
	default:
		est.Selectivity = (float64(obs.OutputCount) + w*naive.Selectivity) / (n + w)
	}
	return est, true
}

// Estimate returns the per record estimate of op. upstream is the chosen
// prefix of the plan starting at the scan. history is preferred over
// sampling; an empty sample falls back to the naive estimate.
func (cm *CostModel) Estimate(ctx context.Context, op *plans.PhysicalOperator, upstream []*plans.PhysicalOperator, inputCard float64, charge *SamplingCharge) (plans.OperatorEstimate, EstimateSource, error) {
	naive := cm.Naive(op, inputCard)
	if est, ok := cm.historical(op, naive); ok {
		return est, HistoricalEstimate, nil
	}
	if cm.sampler == nil || !op.GetStrategy().UsesModel() || len(upstream) == 0 {
		return naive, NaiveEstimate, nil
	}
	key := chainKey(append(append([]*plans.PhysicalOperator{}, upstream...), op))
	cm.mutex.Lock()
	defer cm.mutex.Unlock()
	if m, ok := cm.memo[key]; ok {
		return m.est, m.source, nil
	}
	est, err := cm.sampled(ctx, op, upstream, naive, charge)
	source := SampledEstimate
	if err != nil {
		if !errors.Is(err, common.ErrInsufficientData) {
			return naive, NaiveEstimate, err
		}
		common.ShPrintf(common.DEBUG_INFO, "CostModel: %v, naive estimate is used\n", err)
		est, source = naive, NaiveEstimate
	}
	cm.memo[key] = estimateMemo{est, source}
	return est, source, nil
}

func (cm *CostModel) sampled(ctx context.Context, op *plans.PhysicalOperator, upstream []*plans.PhysicalOperator, naive plans.OperatorEstimate, charge *SamplingCharge) (plans.OperatorEstimate, error) {
	inputs, res, err := cm.sampler.Run(ctx, upstream, op, charge)
	if err != nil {
		return naive, err
	}
	if res.Succeeded == 0 {
		common.ShPrintf(common.WARN, "CostModel: every sampled invocation of %s failed\n", op.GetName())
		est := naive
		est.Quality = 0
		return est, nil
	}
	est := naive
	n := float64(res.Succeeded)
	est.CostPerRecord = res.Cost / n
	est.TimePerRecord = res.Time.Seconds() / n
	est.Selectivity = float64(len(res.Outputs)) / float64(len(inputs))
	// dropped records lower the quality
	completion := n / float64(len(inputs))
	if q, ok := cm.validated(op, inputs, res); ok {
		est.Quality = q * completion
		return est, nil
	}
	agreement, err := cm.agreement(ctx, op, inputs, res, charge)
	if err != nil {
		return naive, err
	}
	est.Quality = agreement * naive.Quality * completion
	return est, nil
}

// validated compares sampled outputs with the validation set
func (cm *CostModel) validated(op *plans.PhysicalOperator, inputs []*record.Record, res *executors.SampleResult) (float64, bool) {
	if cm.validation == nil {
		return 0, false
	}
	logical := op.GetLogicalOp()
	total, correct := 0, 0
	switch logical.GetType() {
	case planner.FilterOp:
		labels := cm.validation.FilterLabels[logical.GetFilter().Text]
		if labels == nil {
			return 0, false
		}
		for i, outs := range res.PerInput {
			expected, labeled := labels[inputs[i].GetSourceIndex()]
			if !labeled {
				continue
			}
			total++
			if expected == (len(outs) > 0) {
				correct++
			}
		}
	case planner.ConvertOp:
		fields := logical.GeneratedColumnNames()
		for _, out := range res.Outputs {
			labels, ok := cm.validation.Labels[out.GetSourceIndex()]
			if !ok {
				continue
			}
			for _, f := range fields {
				want, ok := labels[f]
				if !ok {
					continue
				}
				total++
				if got, ok := out.GetValue(f); ok && got.CompareEquals(want) {
					correct++
				}
			}
		}
	}
	if total == 0 {
		return 0, false
	}
	return float64(correct) / float64(total), true
}

// agreement is the share of inputs whose outputs are equal across
// QualityRerunRepeats runs
func (cm *CostModel) agreement(ctx context.Context, op *plans.PhysicalOperator, inputs []*record.Record, first *executors.SampleResult, charge *SamplingCharge) (float64, error) {
	if cm.config.QualityRerunRepeats <= 1 {
		return 1.0, nil
	}
	agreed := make([]bool, len(inputs))
	for i := range agreed {
		agreed[i] = true
	}
	for r := 1; r < cm.config.QualityRerunRepeats; r++ {
		again, err := cm.sampler.Rerun(ctx, op, inputs, charge)
		if err != nil {
			return 0, err
		}
		for i := range inputs {
			if !sameOutputs(first.PerInput[i], again.PerInput[i]) {
				agreed[i] = false
			}
		}
	}
	n := 0
	for _, a := range agreed {
		if a {
			n++
		}
	}
	return float64(n) / float64(len(inputs)), nil
}

func sameOutputs(a []*record.Record, b []*record.Record) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		av, bv := a[i].Values(), b[i].Values()
		if len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			w, ok := bv[k]
			if !ok || !equalValues(v, w) {
				return false
			}
		}
	}
	return true
}

func equalValues(a types.Value, b types.Value) bool {
	if a.IsNull() || b.IsNull() {
		return a.IsNull() == b.IsNull()
	}
	return a.CompareEquals(b)
}
