package stats

import (
	"time"

	"github.com/ryogrid/SemOptDB/common"
	"github.com/ryogrid/SemOptDB/execution/plans"
)

// OperatorStats accumulates completed invocations of one stage
type OperatorStats struct {
	OpID    string `json:"op_id"`
	Name    string `json:"name"`
	Kind    string `json:"kind"`
	ImplTag string `json:"impl_tag"`
	// inputs of successful invocations
	RecordsIn  int64 `json:"records_in"`
	RecordsOut int64 `json:"records_out"`
	// successful invocations
	Invocations int64 `json:"invocations"`
	// failed attempts including those which were retried successfully
	AttemptFailures int64 `json:"attempt_failures"`
	// records dropped after retries were exhausted
	Failures  int64         `json:"failures"`
	TotalCost float64       `json:"total_cost"`
	TotalTime time.Duration `json:"total_time"`
}

// PlanStats is shared by the stage goroutines of one execution. totals are
// always derived from the per operator values.
type PlanStats struct {
	latch            common.ReaderWriterLatch
	planID           string
	ops              []OperatorStats
	optimizationCost float64
	optimizationTime time.Duration
	wallTime         time.Duration
}

func NewPlanStats(plan *plans.PhysicalPlan) *PlanStats {
	ops := make([]OperatorStats, plan.Len())
	for i, op := range plan.Operators() {
		ops[i] = OperatorStats{
			OpID:    op.GetID(),
			Name:    op.GetName(),
			Kind:    op.GetKind().String(),
			ImplTag: op.GetImplTag(),
		}
	}
	return &PlanStats{latch: common.NewRWLatch(), planID: plan.GetPlanID(), ops: ops}
}

func (ps *PlanStats) GetPlanID() string {
	return ps.planID
}

func (ps *PlanStats) RecordInvocation(stage int, in int64, out int64, cost float64, elapsed time.Duration) {
	ps.latch.WLock()
	defer ps.latch.WUnlock()
	op := &ps.ops[stage]
	op.Invocations++
	op.RecordsIn += in
	op.RecordsOut += out
	op.TotalCost += cost
	op.TotalTime += elapsed
}

func (ps *PlanStats) RecordAttemptFailure(stage int) {
	ps.latch.WLock()
	defer ps.latch.WUnlock()
	ps.ops[stage].AttemptFailures++
}

// RecordFailure counts dropped records
func (ps *PlanStats) RecordFailure(stage int, dropped int64) {
	ps.latch.WLock()
	defer ps.latch.WUnlock()
	ps.ops[stage].Failures += dropped
}

func (ps *PlanStats) SetOptimization(cost float64, elapsed time.Duration) {
	ps.latch.WLock()
	defer ps.latch.WUnlock()
	ps.optimizationCost = cost
	ps.optimizationTime = elapsed
}

func (ps *PlanStats) SetWallTime(elapsed time.Duration) {
	ps.latch.WLock()
	defer ps.latch.WUnlock()
	ps.wallTime = elapsed
}

func (ps *PlanStats) Len() int {
	return len(ps.ops)
}

func (ps *PlanStats) GetOperator(stage int) OperatorStats {
	ps.latch.RLock()
	defer ps.latch.RUnlock()
	return ps.ops[stage]
}

// Operators returns copies in plan order
func (ps *PlanStats) Operators() []OperatorStats {
	ps.latch.RLock()
	defer ps.latch.RUnlock()
	ret := make([]OperatorStats, len(ps.ops))
	copy(ret, ps.ops)
	return ret
}

func (ps *PlanStats) TotalCost() float64 {
	ps.latch.RLock()
	defer ps.latch.RUnlock()
	sum := 0.0
	for _, op := range ps.ops {
		sum += op.TotalCost
	}
	return sum
}

// TotalTime is the sum of invocation latencies over all stages. stages run
// concurrently, so it is usually larger than the wall time.
func (ps *PlanStats) TotalTime() time.Duration {
	ps.latch.RLock()
	defer ps.latch.RUnlock()
	var sum time.Duration
	for _, op := range ps.ops {
		sum += op.TotalTime
	}
	return sum
}

func (ps *PlanStats) TotalFailures() int64 {
	ps.latch.RLock()
	defer ps.latch.RUnlock()
	var sum int64
	for _, op := range ps.ops {
		sum += op.Failures
	}
	return sum
}

func (ps *PlanStats) TotalInvocations() int64 {
	ps.latch.RLock()
	defer ps.latch.RUnlock()
	var sum int64
	for _, op := range ps.ops {
		sum += op.Invocations
	}
	return sum
}

func (ps *PlanStats) GetOptimizationCost() float64 {
	ps.latch.RLock()
	defer ps.latch.RUnlock()
	return ps.optimizationCost
}

func (ps *PlanStats) GetOptimizationTime() time.Duration {
	ps.latch.RLock()
	defer ps.latch.RUnlock()
	return ps.optimizationTime
}

func (ps *PlanStats) GetWallTime() time.Duration {
	ps.latch.RLock()
	defer ps.latch.RUnlock()
	return ps.wallTime
}
