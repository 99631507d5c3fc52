package stats

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-kit/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/ryogrid/SemOptDB/execution/plans"
	"github.com/ryogrid/SemOptDB/planner"
	testingpkg "github.com/ryogrid/SemOptDB/testing/testing_assert"
	"github.com/ryogrid/SemOptDB/testing/testing_util"
)

func newTwoStagePlan(t *testing.T) *plans.PhysicalPlan {
	lp, err := planner.NewLogicalPlan("papers", testing_util.PaperSchema())
	testingpkg.Ok(t, err)
	lp, err = lp.Convert(testing_util.ExtractedPaperSchema())
	testingpkg.Ok(t, err)
	ops := lp.Operations()
	pp, err := plans.NewPhysicalPlan([]*plans.PhysicalOperator{
		plans.NewPhysicalOperator(ops[0], plans.MarshalAndScan, ""),
		plans.NewPhysicalOperator(ops[1], plans.LLMConvertBonded, "gpt-4"),
	})
	testingpkg.Ok(t, err)
	return pp
}

func TestPlanStatsTotals(t *testing.T) {
	ps := NewPlanStats(newTwoStagePlan(t))
	wg := new(sync.WaitGroup)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ps.RecordInvocation(0, 1, 1, 0, time.Millisecond)
			ps.RecordInvocation(1, 1, 1, 0.01, 2*time.Millisecond)
		}()
	}
	wg.Wait()
	ps.RecordAttemptFailure(1)
	ps.RecordFailure(1, 2)

	testingpkg.Equals(t, int64(20), ps.TotalInvocations())
	testingpkg.InDelta(t, 0.1, ps.TotalCost(), 1e-9)
	testingpkg.Equals(t, 30*time.Millisecond, ps.TotalTime())
	testingpkg.Equals(t, int64(2), ps.TotalFailures())

	sum := 0.0
	for _, op := range ps.Operators() {
		sum += op.TotalCost
	}
	testingpkg.InDelta(t, sum, ps.TotalCost(), 1e-12)
	testingpkg.Equals(t, int64(1), ps.GetOperator(1).AttemptFailures)
	testingpkg.Equals(t, "LLMConvertBonded:gpt-4", ps.GetOperator(1).ImplTag)

	ps.SetOptimization(0.5, time.Second)
	ps.SetWallTime(3 * time.Second)
	report := NewReport(ps, "MarshalAndScan -> LLMConvertBonded:gpt-4")
	testingpkg.InDelta(t, 0.1, report.ExecutionCost, 1e-9)
	testingpkg.InDelta(t, 0.5, report.OptimizationCost, 1e-9)
	testingpkg.Equals(t, 3*time.Second, report.ExecutionTime)
	testingpkg.Equals(t, 2, len(report.Operators))
	testingpkg.Assert(t, strings.Contains(report.String(), report.PlanID), "report prints plan id")
}

func TestDispatcherDeliversInOrder(t *testing.T) {
	got := make([]uint64, 0)
	d := NewDispatcher(FuncObserver(func(ev Event) {
		got = append(got, ev.Seq)
	}))
	wg := new(sync.WaitGroup)
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func(stage int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				d.Emit(Event{Type: RecordCompleted, Stage: stage})
			}
		}(g)
	}
	wg.Wait()
	d.Close()
	// emits after close are ignored
	d.Emit(Event{Type: ExecutionFinished})

	testingpkg.Equals(t, 200, len(got))
	for i, seq := range got {
		testingpkg.Equals(t, uint64(i+1), seq)
	}

	// nil observer is a no-op
	nop := NewDispatcher(nil)
	nop.Emit(Event{})
	nop.Close()
}

func TestLogAndMetricsObservers(t *testing.T) {
	buf := new(bytes.Buffer)
	reg := prometheus.NewRegistry()
	mo := NewMetricsObserver(reg)
	obs := MultiObserver{NewLogObserver(log.NewLogfmtLogger(buf)), mo}

	obs.OnEvent(Event{Seq: 1, Type: RecordCompleted, Kind: "convert", ImplTag: "LLMConvertBonded:gpt-4", Inputs: 1, Outputs: 2, Cost: 0.02})
	obs.OnEvent(Event{Seq: 2, Type: RecordFailed, Kind: "convert", ImplTag: "LLMConvertBonded:gpt-4", Err: errors.New("boom")})
	obs.OnEvent(Event{Seq: 3, Type: ExecutionFinished})

	out := buf.String()
	testingpkg.Assert(t, strings.Contains(out, "msg=record-completed"), "completed event logged: %s", out)
	testingpkg.Assert(t, strings.Contains(out, "err=boom"), "failure logged: %s", out)

	labels := prometheus.Labels{"kind": "convert", "impl": "LLMConvertBonded:gpt-4"}
	testingpkg.InDelta(t, 1, testutil.ToFloat64(mo.invocations.With(labels)), 0)
	testingpkg.InDelta(t, 2, testutil.ToFloat64(mo.records.With(labels)), 0)
	testingpkg.InDelta(t, 0.02, testutil.ToFloat64(mo.cost.With(labels)), 1e-12)
	testingpkg.InDelta(t, 1, testutil.ToFloat64(mo.attemptFailures.With(labels)), 0)
	testingpkg.InDelta(t, 1, testutil.ToFloat64(mo.executions.WithLabelValues("ok")), 0)
}
