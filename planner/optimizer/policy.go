package optimizer

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/ryogrid/SemOptDB/execution/plans"
	"golang.org/x/exp/slices"
)

// Policy ranks plan estimates. Admissible filters plans before ranking and
// Less orders the admissible ones, best first.
type Policy interface {
	Name() string
	Admissible(est plans.PlanEstimate) bool
	Less(a plans.PlanEstimate, b plans.PlanEstimate) bool
}

// fallbackPolicy is implemented by constrained policies. the fallback ranks
// all plans when none is admissible.
type fallbackPolicy interface {
	Fallback() Policy
}

type MinCost struct{}

func (MinCost) Name() string                       { return "MinCost" }
func (MinCost) Admissible(plans.PlanEstimate) bool { return true }
func (MinCost) Less(a plans.PlanEstimate, b plans.PlanEstimate) bool {
	if a.Cost != b.Cost {
		return a.Cost < b.Cost
	}
	return a.Time < b.Time
}

type MaxQuality struct{}

func (MaxQuality) Name() string                       { return "MaxQuality" }
func (MaxQuality) Admissible(plans.PlanEstimate) bool { return true }
func (MaxQuality) Less(a plans.PlanEstimate, b plans.PlanEstimate) bool {
	if a.Quality != b.Quality {
		return a.Quality > b.Quality
	}
	return a.Cost < b.Cost
}

type MinTime struct{}

func (MinTime) Name() string                       { return "MinTime" }
func (MinTime) Admissible(plans.PlanEstimate) bool { return true }
func (MinTime) Less(a plans.PlanEstimate, b plans.PlanEstimate) bool {
	if a.Time != b.Time {
		return a.Time < b.Time
	}
	return a.Cost < b.Cost
}

// MaxQualityAtFixedCost picks the best quality among plans within Budget
// (USD). when nothing fits, the cheapest plan is chosen.
type MaxQualityAtFixedCost struct {
	Budget float64
}

func (p MaxQualityAtFixedCost) Name() string {
	return fmt.Sprintf("MaxQualityAtFixedCost(%g)", p.Budget)
}

func (p MaxQualityAtFixedCost) Admissible(est plans.PlanEstimate) bool {
	return est.Cost <= p.Budget
}

func (p MaxQualityAtFixedCost) Less(a plans.PlanEstimate, b plans.PlanEstimate) bool {
	return MaxQuality{}.Less(a, b)
}

func (p MaxQualityAtFixedCost) Fallback() Policy {
	return MinCost{}
}

// MinCostAtFixedQuality picks the cheapest plan reaching Floor. when
// nothing does, the best quality plan is chosen.
type MinCostAtFixedQuality struct {
	Floor float64
}

func (p MinCostAtFixedQuality) Name() string {
	return fmt.Sprintf("MinCostAtFixedQuality(%g)", p.Floor)
}

func (p MinCostAtFixedQuality) Admissible(est plans.PlanEstimate) bool {
	return est.Quality >= p.Floor
}

func (p MinCostAtFixedQuality) Less(a plans.PlanEstimate, b plans.PlanEstimate) bool {
	return MinCost{}.Less(a, b)
}

func (p MinCostAtFixedQuality) Fallback() Policy {
	return MaxQuality{}
}

// Pareto has no single ranking. the optimizer returns the non dominated
// frontier and executes its best quality member.
type Pareto struct{}

func (Pareto) Name() string                       { return "Pareto" }
func (Pareto) Admissible(plans.PlanEstimate) bool { return true }
func (Pareto) Less(a plans.PlanEstimate, b plans.PlanEstimate) bool {
	return MaxQuality{}.Less(a, b)
}

// Rank sorts candidates best first. remaining ties break on plan id. the
// bool is false when no plan was admissible and the fallback ranking was used.
func Rank(policy Policy, candidates []*plans.PhysicalPlan) ([]*plans.PhysicalPlan, bool) {
	admissible := make([]*plans.PhysicalPlan, 0, len(candidates))
	for _, c := range candidates {
		if policy.Admissible(c.GetEstimate()) {
			admissible = append(admissible, c)
		}
	}
	ranking := policy
	satisfied := true
	if len(admissible) == 0 {
		satisfied = false
		admissible = append(admissible, candidates...)
		if fp, ok := policy.(fallbackPolicy); ok {
			ranking = fp.Fallback()
		}
	}
	slices.SortStableFunc(admissible, func(a, b *plans.PhysicalPlan) int {
		switch {
		case ranking.Less(a.GetEstimate(), b.GetEstimate()):
			return -1
		case ranking.Less(b.GetEstimate(), a.GetEstimate()):
			return 1
		}
		return strings.Compare(a.GetPlanID(), b.GetPlanID())
	})
	return admissible, satisfied
}

// NewPolicyByName parses "mincost", "maxquality", "mintime", "pareto",
// "maxquality-at-cost" and "mincost-at-quality". bound is the budget or the
// quality floor of the constrained policies.
func NewPolicyByName(name string, bound float64) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "mincost", "":
		return MinCost{}, nil
	case "maxquality":
		return MaxQuality{}, nil
	case "mintime":
		return MinTime{}, nil
	case "pareto":
		return Pareto{}, nil
	case "maxquality-at-cost":
		if bound < 0 {
			return nil, errors.Newf("budget must not be negative: %f", bound)
		}
		return MaxQualityAtFixedCost{Budget: bound}, nil
	case "mincost-at-quality":
		if bound < 0 || bound > 1 {
			return nil, errors.Newf("quality floor must be in [0, 1]: %f", bound)
		}
		return MinCostAtFixedQuality{Floor: bound}, nil
	}
	return nil, errors.Newf("unknown policy %s", name)
}
