package plans

import (
	"fmt"
	"strings"

	"github.com/ryogrid/SemOptDB/common"
	"github.com/ryogrid/SemOptDB/planner"
	"github.com/spaolacci/murmur3"
)

// PlanEstimate is the plan level estimate. Quality is the product of stage
// qualities, which assumes stage errors are independent.
type PlanEstimate struct {
	// USD
	Cost float64
	// seconds
	Time    float64
	Quality float64
}

// Dominates reports whether e is no worse than other on every axis and
// strictly better on at least one
func (e PlanEstimate) Dominates(other PlanEstimate) bool {
	if e.Cost > other.Cost || e.Time > other.Time || e.Quality < other.Quality {
		return false
	}
	return e.Cost < other.Cost || e.Time < other.Time || e.Quality > other.Quality
}

func (e PlanEstimate) String() string {
	return fmt.Sprintf("cost=$%.6f time=%.3fs quality=%.4f", e.Cost, e.Time, e.Quality)
}

// PhysicalPlan is an ordered operator sequence implementing a logical plan
type PhysicalPlan struct {
	ops      []*PhysicalOperator
	estimate PlanEstimate
	planID   string
}

// NewPhysicalPlan checks that ops start with a scan and chain schemas
// end to end
func NewPhysicalPlan(ops []*PhysicalOperator) (*PhysicalPlan, error) {
	if len(ops) == 0 {
		return nil, common.NewStageError(common.ErrInvalidPlan, 0, "scan", "physical plan has no operators")
	}
	if ops[0].GetKind() != planner.ScanOp {
		return nil, common.NewStageError(common.ErrInvalidPlan, 0, ops[0].GetName(), "physical plan must start with a scan")
	}
	for i := 1; i < len(ops); i++ {
		prev := ops[i-1].GetOutputSchema()
		if in := ops[i].GetInputSchema(); in == nil || !in.Equals(prev) {
			return nil, common.NewStageError(common.ErrSchemaMismatch, i, ops[i].GetName(),
				"input schema %s does not match output schema %s of previous stage", in, prev)
		}
		if ops[i].GetKind() == planner.ScanOp {
			return nil, common.NewStageError(common.ErrInvalidPlan, i, ops[i].GetName(), "scan is allowed only at stage 0")
		}
	}
	copied := make([]*PhysicalOperator, len(ops))
	copy(copied, ops)
	return &PhysicalPlan{ops: copied, planID: makePlanID(copied)}, nil
}

func makePlanID(ops []*PhysicalOperator) string {
	h := murmur3.New64()
	for _, op := range ops {
		h.Write([]byte(op.GetID()))
		h.Write([]byte{0})
		h.Write([]byte(op.GetImplTag()))
		h.Write([]byte{0})
	}
	return fmt.Sprintf("plan-%016x", h.Sum64())
}

// WithEstimate returns a copy carrying est
func (pp *PhysicalPlan) WithEstimate(est PlanEstimate) *PhysicalPlan {
	return &PhysicalPlan{ops: pp.ops, estimate: est, planID: pp.planID}
}

// WithOperators returns a copy whose operators are replaced by ops. ops must
// have the same ids and implementations, e.g. with estimates filled in.
func (pp *PhysicalPlan) WithOperators(ops []*PhysicalOperator) *PhysicalPlan {
	common.SH_Assert(len(ops) == len(pp.ops), "operator count differs")
	copied := make([]*PhysicalOperator, len(ops))
	copy(copied, ops)
	return &PhysicalPlan{ops: copied, estimate: pp.estimate, planID: pp.planID}
}

func (pp *PhysicalPlan) GetPlanID() string {
	return pp.planID
}

func (pp *PhysicalPlan) GetEstimate() PlanEstimate {
	return pp.estimate
}

func (pp *PhysicalPlan) Len() int {
	return len(pp.ops)
}

func (pp *PhysicalPlan) GetOperator(idx int) *PhysicalOperator {
	return pp.ops[idx]
}

// Operators returns a copy of the operator sequence
func (pp *PhysicalPlan) Operators() []*PhysicalOperator {
	ret := make([]*PhysicalOperator, len(pp.ops))
	copy(ret, pp.ops)
	return ret
}

func (pp *PhysicalPlan) GetSourceID() string {
	return pp.ops[0].GetLogicalOp().GetSourceID()
}

func (pp *PhysicalPlan) Explain() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%s (%s)\n", pp.planID, pp.estimate))
	for i, op := range pp.ops {
		sb.WriteString(fmt.Sprintf("  %d: %s\n", i, op))
	}
	return sb.String()
}

func (pp *PhysicalPlan) String() string {
	tags := make([]string, 0, len(pp.ops))
	for _, op := range pp.ops {
		tags = append(tags, op.GetImplTag())
	}
	return strings.Join(tags, " -> ")
}
