package optimizer

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ryogrid/SemOptDB/catalog"
	"github.com/ryogrid/SemOptDB/common"
	"github.com/ryogrid/SemOptDB/execution/executors"
	"github.com/ryogrid/SemOptDB/execution/plans"
	"github.com/ryogrid/SemOptDB/inference"
	"github.com/ryogrid/SemOptDB/planner"
)

type Optimizer interface {
	Optimize(ctx context.Context, lp *planner.LogicalPlan, policy Policy) (*OptimizationResult, error)
}

// CostAndPlan is one estimated candidate together with where its stage
// estimates came from
type CostAndPlan struct {
	Plan    *plans.PhysicalPlan
	Sources []EstimateSource
}

type OptimizationResult struct {
	Selected *plans.PhysicalPlan
	// non dominated candidates, in candidate order
	Frontier   []*plans.PhysicalPlan
	Candidates []*CostAndPlan
	// false when no candidate was admissible and the policy fell back
	PolicySatisfied bool
	// USD spent on sampling
	OptimizationCost float64
	OptimizationTime time.Duration
}

// SemanticOptimizer estimates every enumerated candidate with the cost model
// and selects one with a policy
type SemanticOptimizer struct {
	catalog_   *catalog.Catalog
	config     *common.Config
	registry   *inference.ModelRegistry
	store      *catalog.StatisticsStore
	enumerator *Enumerator
	sampler    *Sampler
	mutex      sync.Mutex
	costModel  *CostModel
}

// NewSemanticOptimizer creates an optimizer. store may be nil, then only
// sampled and naive estimates are used.
func NewSemanticOptimizer(c *catalog.Catalog, client inference.Client, config *common.Config, registry *inference.ModelRegistry, store *catalog.StatisticsStore) *SemanticOptimizer {
	if config == nil {
		config = common.NewDefaultConfig()
	}
	if registry == nil {
		registry = inference.NewDefaultModelRegistry()
	}
	var sampler *Sampler
	if config.UseSampling && config.SampleSize > 0 {
		// sampling must not leave anything behind
		engine := executors.NewExecutionEngine(executors.NewExecutorContext(c, client, config, nil, nil).WithoutSharedState())
		sampler = NewSampler(engine, config)
	}
	return &SemanticOptimizer{
		catalog_:   c,
		config:     config,
		registry:   registry,
		store:      store,
		enumerator: NewEnumerator(config, registry),
		sampler:    sampler,
		costModel:  NewCostModel(config, registry, nil, sampler, nil),
	}
}

// SetValidationSet makes sampled quality come from labels. estimates made
// so far are discarded.
func (so *SemanticOptimizer) SetValidationSet(vs *ValidationSet) {
	so.mutex.Lock()
	defer so.mutex.Unlock()
	so.costModel = NewCostModel(so.config, so.registry, nil, so.sampler, vs)
}

func (so *SemanticOptimizer) GetEnumerator() *Enumerator {
	return so.enumerator
}

func (so *SemanticOptimizer) Optimize(ctx context.Context, lp *planner.LogicalPlan, policy Policy) (*OptimizationResult, error) {
	startTime := time.Now()
	if policy == nil {
		policy = MinCost{}
	}
	meta, err := so.catalog_.GetSourceByName(lp.GetSourceID())
	if err != nil {
		return nil, err
	}
	candidates, err := so.enumerator.Enumerate(lp)
	if err != nil {
		return nil, err
	}

	var snapshot *catalog.StatsSnapshot
	if so.store != nil {
		snapshot = so.store.Snapshot()
	}
	so.mutex.Lock()
	cm := so.costModel.WithSnapshot(snapshot)
	so.mutex.Unlock()

	sourceCard := float64(meta.Cardinality(so.config.DefaultSourceCardinality))
	charge := &SamplingCharge{}
	result := &OptimizationResult{Candidates: make([]*CostAndPlan, 0, len(candidates))}
	estimated := make([]*plans.PhysicalPlan, 0, len(candidates))
	for _, candidate := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(err, "optimization cancelled")
		}
		cp, err := so.estimatePlan(ctx, cm, candidate, sourceCard, charge)
		if err != nil {
			return nil, err
		}
		result.Candidates = append(result.Candidates, cp)
		estimated = append(estimated, cp.Plan)
	}

	result.Frontier = ParetoFrontier(estimated)
	var ranked []*plans.PhysicalPlan
	if _, ok := policy.(Pareto); ok {
		ranked, result.PolicySatisfied = Rank(policy, result.Frontier)
	} else {
		ranked, result.PolicySatisfied = Rank(policy, estimated)
	}
	if !result.PolicySatisfied {
		common.ShPrintf(common.WARN, "Optimize: no plan satisfies %s, the fallback ranking is used\n", policy.Name())
	}
	result.Selected = ranked[0]

	result.OptimizationCost = charge.Cost
	// model latency reported by sampling can exceed the wall time
	result.OptimizationTime = time.Duration(math.Max(float64(time.Since(startTime)), charge.Time*float64(time.Second)))
	common.ShPrintf(common.DEBUG_INFO, "Optimize: %s selected %s among %d candidates\n", policy.Name(), result.Selected.Explain(), len(candidates))
	return result, nil
}

func (so *SemanticOptimizer) parallelism(op *plans.PhysicalOperator) float64 {
	if op.GetStrategy() == plans.LimitStrategy || op.GetStrategy().IsBlocking() {
		return 1
	}
	return float64(so.config.MaxWorkersPerStage)
}

// estimatePlan composes per stage estimates. stage cost is the per record
// cost times the stage input cardinality, stage time is divided by the stage
// parallelism and quality is multiplied across stages.
func (so *SemanticOptimizer) estimatePlan(ctx context.Context, cm *CostModel, plan *plans.PhysicalPlan, sourceCard float64, charge *SamplingCharge) (*CostAndPlan, error) {
	ops := plan.Operators()
	n := len(ops)
	cards := make([]float64, n)
	estimates := make([]plans.OperatorEstimate, n)
	sources := make([]EstimateSource, n)
	card := sourceCard
	for i, op := range ops {
		cards[i] = card
		est, source, err := cm.Estimate(ctx, op, ops[:i], card, charge)
		if err != nil {
			return nil, errors.Wrapf(err, "estimating stage %d (%s)", i, op.GetName())
		}
		estimates[i] = est
		sources[i] = source
		card = card * est.Selectivity
	}
	scaleForLimits(ops, cards)

	total := plans.PlanEstimate{Quality: 1.0}
	for i, op := range ops {
		ops[i] = op.WithEstimate(estimates[i])
		total.Cost += estimates[i].CostPerRecord * cards[i]
		total.Time += estimates[i].TimePerRecord * cards[i] / so.parallelism(op)
		total.Quality *= estimates[i].Quality
	}
	return &CostAndPlan{plan.WithOperators(ops).WithEstimate(total), sources}, nil
}

// scaleForLimits shrinks the input cardinality of stages in front of a limit,
// since upstream work stops once the limit is reached. a blocking stage
// consumes all of its input, so scaling stops there.
func scaleForLimits(ops []*plans.PhysicalOperator, cards []float64) {
	for l := len(ops) - 1; l > 0; l-- {
		if ops[l].GetStrategy() != plans.LimitStrategy {
			continue
		}
		k := float64(ops[l].GetLogicalOp().GetLimit())
		if cards[l] <= k || cards[l] == 0 {
			continue
		}
		scale := k / cards[l]
		cards[l] = k
		for j := l - 1; j > 0 && !ops[j].GetStrategy().IsBlocking(); j-- {
			cards[j] *= scale
		}
		// the scan reads as many rows as its successors need
		if !hasBlockingBetween(ops, 0, l) {
			cards[0] *= scale
		}
	}
}

func hasBlockingBetween(ops []*plans.PhysicalOperator, from int, to int) bool {
	for j := from + 1; j < to; j++ {
		if ops[j].GetStrategy().IsBlocking() {
			return true
		}
	}
	return false
}
