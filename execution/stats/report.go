package stats

import (
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// Report is the read only summary handed to callers
type Report struct {
	RunID            string          `json:"run_id"`
	PlanID           string          `json:"plan_id"`
	Plan             string          `json:"plan"`
	OptimizationTime time.Duration   `json:"optimization_time"`
	OptimizationCost float64         `json:"optimization_cost"`
	ExecutionTime    time.Duration   `json:"execution_time"`
	ExecutionCost    float64         `json:"execution_cost"`
	OperatorTime     time.Duration   `json:"operator_time"`
	TotalFailures    int64           `json:"total_failures"`
	Operators        []OperatorStats `json:"operators"`
}

// NewReport freezes ps. plan is a printable description of the executed plan.
func NewReport(ps *PlanStats, plan string) *Report {
	return &Report{
		RunID:            ulid.Make().String(),
		PlanID:           ps.GetPlanID(),
		Plan:             plan,
		OptimizationTime: ps.GetOptimizationTime(),
		OptimizationCost: ps.GetOptimizationCost(),
		ExecutionTime:    ps.GetWallTime(),
		ExecutionCost:    ps.TotalCost(),
		OperatorTime:     ps.TotalTime(),
		TotalFailures:    ps.TotalFailures(),
		Operators:        ps.Operators(),
	}
}

func (r *Report) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "run %s plan %s\n", r.RunID, r.PlanID)
	fmt.Fprintf(&sb, "  %s\n", r.Plan)
	fmt.Fprintf(&sb, "optimization: time=%s cost=$%.6f\n", r.OptimizationTime, r.OptimizationCost)
	fmt.Fprintf(&sb, "execution:    time=%s cost=$%.6f failures=%d\n", r.ExecutionTime, r.ExecutionCost, r.TotalFailures)
	for i, op := range r.Operators {
		fmt.Fprintf(&sb, "  %d %-48s in=%d out=%d inv=%d attempt_failures=%d failures=%d time=%s cost=$%.6f\n",
			i, op.Name, op.RecordsIn, op.RecordsOut, op.Invocations, op.AttemptFailures, op.Failures, op.TotalTime, op.TotalCost)
	}
	return sb.String()
}
