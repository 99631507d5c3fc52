package executors

import (
	"context"
	"testing"

	"github.com/ryogrid/SemOptDB/execution/plans"
	"github.com/ryogrid/SemOptDB/planner"
	testingpkg "github.com/ryogrid/SemOptDB/testing/testing_assert"
	"github.com/ryogrid/SemOptDB/testing/testing_util"
)

func TestScanExecutorReportsDone(t *testing.T) {
	engine, _ := newTestEngine(t, testing_util.NewTestConfig(), nil, newNumSource("nums", 3))
	lp, err := planner.NewLogicalPlan("nums", numSchema())
	testingpkg.Ok(t, err)
	op := plans.NewPhysicalOperator(lp.Operations()[0], plans.MarshalAndScan, "")
	scan := NewScanExecutor(engine.GetContext(), op)

	for round := 0; round < 2; round++ {
		testingpkg.Ok(t, scan.Init(context.Background()))
		for i := 0; i < 3; i++ {
			r, done, err := scan.Next()
			testingpkg.Ok(t, err)
			testingpkg.AssertFalse(t, done, "row %d is not the end", i)
			v, _ := r.GetValue("n")
			testingpkg.Equals(t, int64(i), v.ToInteger())
			testingpkg.Equals(t, int64(i), r.GetProvenance().SourceIndex)
		}
		r, done, err := scan.Next()
		testingpkg.Ok(t, err)
		testingpkg.Assert(t, done, "scan is exhausted")
		testingpkg.Assert(t, r == nil, "no record after the end")
	}
}
