package semopt

import (
	"context"
	"testing"
	"time"

	"github.com/ryogrid/SemOptDB/common"
	"github.com/ryogrid/SemOptDB/inference"
	"github.com/ryogrid/SemOptDB/planner"
	"github.com/ryogrid/SemOptDB/planner/optimizer"
	testingpkg "github.com/ryogrid/SemOptDB/testing/testing_assert"
	"github.com/ryogrid/SemOptDB/testing/testing_util"
)

func newTestSemOptDB(t *testing.T, cfg *common.Config, client inference.Client, papers int) *SemOptDB {
	if client == nil {
		client = inference.NewSimulatedClient(nil)
	}
	sdb, err := NewSemOptDB(cfg, client)
	testingpkg.Ok(t, err)
	testingpkg.Ok(t, sdb.RegisterSource(testing_util.NewPaperSource("papers", papers)))
	return sdb
}

func extractSpec() *planner.PlanSpec {
	return &planner.PlanSpec{
		Source: "papers",
		Operations: []planner.OperationSpec{
			{Kind: "convert", Desc: "extract title and year", DependsOn: []string{"contents"}, Schema: &common.SchemaConfig{
				Name: "ExtractedPaper",
				Columns: []common.ColumnConfig{
					{Name: "filename", Type: "varchar", Required: true},
					{Name: "contents", Type: "varchar", Required: true},
					{Name: "title", Type: "varchar", Required: true},
					{Name: "year", Type: "int", Required: true},
				},
			}},
			{Kind: "filter", Condition: "the paper is about databases"},
		},
	}
}

func TestRunEndToEnd(t *testing.T) {
	sdb := newTestSemOptDB(t, testing_util.NewTestConfig(), nil, 12)
	defer sdb.Shutdown()

	res, err := sdb.RunSpec(context.Background(), extractSpec(), optimizer.MaxQuality{})
	testingpkg.Ok(t, err)
	testingpkg.Assert(t, len(res.Records) <= 12, "filter does not add records")
	testingpkg.Equals(t, "ExtractedPaper", res.OutputSchema().GetName())
	for _, r := range res.Records {
		testingpkg.Equals(t, 3, len(r.GetProvenance().OpChain))
	}

	report := res.Report
	sum := 0.0
	for _, op := range report.Operators {
		sum += op.TotalCost
	}
	testingpkg.InDelta(t, sum, report.ExecutionCost, 1e-12)
	testingpkg.InDelta(t, res.Optimization.OptimizationCost, report.OptimizationCost, 1e-12)
	testingpkg.Equals(t, res.Optimization.Selected.GetPlanID(), report.PlanID)

	// executed implementations are estimated from history afterwards
	store := sdb.GetInstance().GetStatisticsStore()
	convert := report.Operators[1]
	obs, ok := store.Lookup(convert.Kind, convert.ImplTag)
	testingpkg.Assert(t, ok, "statistics of %s are recorded", convert.ImplTag)
	testingpkg.Equals(t, convert.RecordsIn, obs.InputCount)

	testingpkg.Ok(t, sdb.RecordQuality(convert, 0.5))
	testingpkg.Nok(t, sdb.RecordQuality(convert, 1.5))
	obs, _ = store.Lookup(convert.Kind, convert.ImplTag)
	testingpkg.Equals(t, int64(1), obs.QualityCount)

	lp, err := sdb.MakePlan(extractSpec())
	testingpkg.Ok(t, err)
	again, err := sdb.Optimize(context.Background(), lp, optimizer.MaxQuality{})
	testingpkg.Ok(t, err)
	found := false
	for _, cp := range again.Candidates {
		if cp.Plan.GetOperator(1).GetImplTag() == convert.ImplTag {
			testingpkg.Equals(t, optimizer.HistoricalEstimate, cp.Sources[1])
			found = true
		}
	}
	testingpkg.Assert(t, found, "executed implementation is still a candidate")
}

func TestRunWithUnknownSource(t *testing.T) {
	sdb := newTestSemOptDB(t, testing_util.NewTestConfig(), nil, 1)
	defer sdb.Shutdown()
	spec := extractSpec()
	spec.Source = "nothing"
	_, err := sdb.RunSpec(context.Background(), spec, nil)
	testingpkg.ErrorIs(t, err, common.ErrSourceNotFound)
}

func TestShutdownCancelsRuns(t *testing.T) {
	cfg := testing_util.NewTestConfig()
	cfg.UseSampling = false
	client := testing_util.NewScriptedClient(nil)
	client.BlockWhen(func(req *inference.Request) bool { return true })
	sdb := newTestSemOptDB(t, cfg, client, 5)

	errCh := make(chan error, 1)
	go func() {
		_, err := sdb.RunSpec(context.Background(), extractSpec(), optimizer.MinCost{})
		errCh <- err
	}()
	deadline := time.Now().Add(5 * time.Second)
	for client.Calls() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("run did not reach the model")
		}
		time.Sleep(time.Millisecond)
	}
	sdb.Shutdown()
	err := <-errCh
	testingpkg.ErrorIs(t, err, common.ErrExecutionCancelled)
	testingpkg.ErrorIs(t, err, ErrShutdown)

	_, err = sdb.RunSpec(context.Background(), extractSpec(), optimizer.MinCost{})
	testingpkg.ErrorIs(t, err, ErrShutdown)
	// twice is harmless
	sdb.Shutdown()
}

func TestRequestManager(t *testing.T) {
	sdb := newTestSemOptDB(t, testing_util.NewTestConfig(), nil, 6)
	defer sdb.Shutdown()
	reqManager := NewRequestManager(sdb)
	reqManager.StartTh()

	chs := make([]<-chan *reqResult, 0)
	for i := 0; i < common.MaxConcurrentRunNum+2; i++ {
		chs = append(chs, reqManager.AppendRequest(context.Background(), extractSpec(), optimizer.MinCost{}))
	}
	for _, ch := range chs {
		res := <-ch
		testingpkg.Ok(t, res.GetError())
		testingpkg.Assert(t, res.GetResult() != nil, "result is set")
	}

	reqManager.StopTh()
	res := <-reqManager.AppendRequest(context.Background(), extractSpec(), optimizer.MinCost{})
	testingpkg.ErrorIs(t, res.GetError(), ErrShutdown)
}
