package optimizer

import (
	"sort"

	"github.com/cockroachdb/errors"
	mapset "github.com/deckarep/golang-set/v2"
	stack "github.com/golang-collections/collections/stack"
	"github.com/ryogrid/SemOptDB/common"
	"github.com/ryogrid/SemOptDB/execution/plans"
	"github.com/ryogrid/SemOptDB/inference"
	"github.com/ryogrid/SemOptDB/planner"
)

// Enumerator expands logical operations into the closed set of physical
// variants and combines them into candidate plans
type Enumerator struct {
	config   *common.Config
	registry *inference.ModelRegistry
}

func NewEnumerator(config *common.Config, registry *inference.ModelRegistry) *Enumerator {
	return &Enumerator{config, registry}
}

// models returns the available models which have a card, best quality first
func (en *Enumerator) models() []inference.ModelCard {
	ret := make([]inference.ModelCard, 0, len(en.config.AvailableModels))
	seen := mapset.NewThreadUnsafeSet[string]()
	for _, name := range en.config.AvailableModels {
		card, err := en.registry.GetModelCard(name)
		if err != nil || !seen.Add(name) {
			common.ShPrintf(common.DEBUG_INFO, "Enumerator: model %s is skipped\n", name)
			continue
		}
		ret = append(ret, card)
	}
	sort.SliceStable(ret, func(i, j int) bool {
		if ret[i].Quality != ret[j].Quality {
			return ret[i].Quality > ret[j].Quality
		}
		return ret[i].Name < ret[j].Name
	})
	return ret
}

// Variants returns the physical variants of op, capped at
// MaxVariantsPerStage. when capped, models take turns so that every model
// keeps its best strategies.
func (en *Enumerator) Variants(op *planner.LogicalOperation) []*plans.PhysicalOperator {
	switch op.GetType() {
	case planner.ScanOp:
		return []*plans.PhysicalOperator{plans.NewPhysicalOperator(op, plans.MarshalAndScan, "")}
	case planner.LimitOp:
		return []*plans.PhysicalOperator{plans.NewPhysicalOperator(op, plans.LimitStrategy, "")}
	case planner.UDFOp:
		return []*plans.PhysicalOperator{plans.NewPhysicalOperator(op, plans.ApplyUDF, "")}
	case planner.AggregateOp:
		if op.GetAggregateFunc() == planner.AverageAgg {
			return []*plans.PhysicalOperator{plans.NewPhysicalOperator(op, plans.AverageAggregate, "")}
		}
		return []*plans.PhysicalOperator{plans.NewPhysicalOperator(op, plans.CountAggregate, "")}
	case planner.FilterOp:
		if op.GetFilter().IsPredicate() {
			return []*plans.PhysicalOperator{plans.NewPhysicalOperator(op, plans.ExpressionFilter, "")}
		}
		perModel := make([][]*plans.PhysicalOperator, 0)
		for _, card := range en.models() {
			perModel = append(perModel, []*plans.PhysicalOperator{plans.NewPhysicalOperator(op, plans.LLMFilter, card.Name)})
		}
		return en.interleave(perModel)
	case planner.ConvertOp:
		if len(op.GeneratedColumnNames()) == 0 {
			return []*plans.PhysicalOperator{plans.NewPhysicalOperator(op, plans.SimpleConvert, "")}
		}
		return en.interleave(en.convertVariants(op))
	}
	return []*plans.PhysicalOperator{}
}

// convertVariants groups variants by model. inside a group the order is the
// prior quality order of the strategies.
func (en *Enumerator) convertVariants(op *planner.LogicalOperation) [][]*plans.PhysicalOperator {
	models := en.models()
	ret := make([][]*plans.PhysicalOperator, 0, len(models))
	for _, card := range models {
		group := make([]*plans.PhysicalOperator, 0)
		if op.GetCardinality() == planner.OneToOne {
			group = append(group, plans.NewPhysicalOperator(op, plans.CodeSynthesisConvert, card.Name))
		}
		group = append(group,
			plans.NewPhysicalOperator(op, plans.LLMConvertBonded, card.Name),
			plans.NewPhysicalOperator(op, plans.LLMConvertConventional, card.Name))
		// the best other model answers what the bonded call misses
		for _, fallback := range models {
			if fallback.Name != card.Name {
				group = append(group, plans.NewPhysicalOperator(op, plans.LLMConvertBondedWithFallback, card.Name).WithFallbackModel(fallback.Name))
				break
			}
		}
		if en.config.BatchSize > 1 {
			group = append(group, plans.NewPhysicalOperator(op, plans.BatchedBondedConvert, card.Name).WithBatchSize(en.config.BatchSize))
		}
		ret = append(ret, group)
	}
	return ret
}

func (en *Enumerator) interleave(groups [][]*plans.PhysicalOperator) []*plans.PhysicalOperator {
	ret := make([]*plans.PhysicalOperator, 0)
	for idx := 0; len(ret) < en.config.MaxVariantsPerStage; idx++ {
		added := false
		for _, g := range groups {
			if idx < len(g) && len(ret) < en.config.MaxVariantsPerStage {
				ret = append(ret, g[idx])
				added = true
			}
		}
		if !added {
			break
		}
	}
	return ret
}

// Enumerate returns every combination of per stage variants, in lexical
// order of the variant lists. each plan has exactly one operator per logical
// operation.
func (en *Enumerator) Enumerate(lp *planner.LogicalPlan) ([]*plans.PhysicalPlan, error) {
	ops := lp.Operations()
	variants := make([][]*plans.PhysicalOperator, len(ops))
	for i, op := range ops {
		variants[i] = en.Variants(op)
		if len(variants[i]) == 0 {
			return nil, common.NewStageError(common.ErrNoFeasiblePlan, i, op.GetType().String(),
				"no physical variant implements %s with models %v", op, en.config.AvailableModels)
		}
	}

	ret := make([]*plans.PhysicalPlan, 0)
	seen := mapset.NewThreadUnsafeSet[string]()
	// stack<[]*PhysicalOperator>
	worklist := stack.New()
	for i := len(variants[0]) - 1; i >= 0; i-- {
		worklist.Push([]*plans.PhysicalOperator{variants[0][i]})
	}
	var lastErr error
	for worklist.Len() > 0 {
		partial := worklist.Pop().([]*plans.PhysicalOperator)
		if len(partial) == len(ops) {
			plan, err := plans.NewPhysicalPlan(partial)
			if err != nil {
				lastErr = err
				continue
			}
			if !seen.Add(plan.GetPlanID()) {
				continue
			}
			ret = append(ret, plan)
			if len(ret) >= en.config.MaxCandidatePlans {
				common.ShPrintf(common.WARN, "Enumerator: candidate plans are capped at %d\n", en.config.MaxCandidatePlans)
				break
			}
			continue
		}
		next := variants[len(partial)]
		prev := partial[len(partial)-1].GetOutputSchema()
		for i := len(next) - 1; i >= 0; i-- {
			if !next[i].GetInputSchema().Equals(prev) {
				continue
			}
			extended := make([]*plans.PhysicalOperator, len(partial), len(partial)+1)
			copy(extended, partial)
			worklist.Push(append(extended, next[i]))
		}
	}
	if len(ret) == 0 {
		if lastErr == nil {
			lastErr = common.NewStageError(common.ErrNoFeasiblePlan, lp.Len()-1, lp.GetTail().GetType().String(), "no combination of variants chains")
		}
		return nil, errors.Mark(lastErr, common.ErrNoFeasiblePlan)
	}
	common.ShPrintf(common.DEBUG_INFO, "Enumerator: %d candidate plans for %s\n", len(ret), lp)
	return ret, nil
}
