package optimizer

import (
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ryogrid/SemOptDB/execution/plans"
)

// ParetoFrontier returns the candidates no other candidate dominates, in
// input order. plans with equal estimates are all kept.
func ParetoFrontier(candidates []*plans.PhysicalPlan) []*plans.PhysicalPlan {
	dominated := mapset.NewThreadUnsafeSet[string]()
	for _, a := range candidates {
		for _, b := range candidates {
			if a != b && b.GetEstimate().Dominates(a.GetEstimate()) {
				dominated.Add(a.GetPlanID())
				break
			}
		}
	}
	ret := make([]*plans.PhysicalPlan, 0, len(candidates)-dominated.Cardinality())
	for _, c := range candidates {
		if !dominated.Contains(c.GetPlanID()) {
			ret = append(ret, c)
		}
	}
	return ret
}
