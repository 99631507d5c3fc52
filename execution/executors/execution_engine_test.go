package executors

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ryogrid/SemOptDB/catalog"
	"github.com/ryogrid/SemOptDB/common"
	"github.com/ryogrid/SemOptDB/execution/plans"
	"github.com/ryogrid/SemOptDB/execution/stats"
	"github.com/ryogrid/SemOptDB/inference"
	"github.com/ryogrid/SemOptDB/planner"
	"github.com/ryogrid/SemOptDB/storage/record"
	"github.com/ryogrid/SemOptDB/storage/source"
	"github.com/ryogrid/SemOptDB/storage/table/column"
	"github.com/ryogrid/SemOptDB/storage/table/schema"
	testingpkg "github.com/ryogrid/SemOptDB/testing/testing_assert"
	"github.com/ryogrid/SemOptDB/testing/testing_util"
	"github.com/ryogrid/SemOptDB/types"
)

const oracleModel = "oracle"

type impl struct {
	strategy plans.Strategy
	model    string
}

func newOracleClient(sleepScale float64) *inference.SimulatedClient {
	registry := inference.NewDefaultModelRegistry()
	registry.Register(inference.ModelCard{Name: oracleModel, CostPerRecord: 0.01, SecondsPerRecord: 1, Quality: 1.0, CodeQuality: 1.0})
	sc := inference.NewSimulatedClient(registry)
	sc.SleepScale = sleepScale
	return sc
}

func numSchema() *schema.Schema {
	return schema.NewSchema("Num", []*column.Column{
		column.NewColumn("n", types.Integer, "", true),
		column.NewColumn("label", types.Varchar, "", false),
	})
}

func newNumSource(id string, n int) *source.MemorySource {
	rows := make([]map[string]types.Value, 0, n)
	for i := 0; i < n; i++ {
		rows = append(rows, testing_util.MakeRow(map[string]interface{}{"n": i, "label": "row"}))
	}
	return source.NewMemorySource(id, numSchema(), rows)
}

func newTestEngine(t *testing.T, cfg *common.Config, client inference.Client, sources ...source.DataSource) (*ExecutionEngine, *catalog.StatisticsStore) {
	c := catalog.NewCatalog()
	for _, ds := range sources {
		_, err := c.RegisterSource(ds)
		testingpkg.Ok(t, err)
	}
	store := catalog.NewOnMemStatisticsStore()
	return NewExecutionEngine(NewExecutorContext(c, client, cfg, store, NewProgramCache())), store
}

func buildPlan(t *testing.T, lp *planner.LogicalPlan, impls ...impl) *plans.PhysicalPlan {
	logicalOps := lp.Operations()
	testingpkg.Equals(t, len(logicalOps), len(impls))
	ops := make([]*plans.PhysicalOperator, 0, len(impls))
	for i, im := range impls {
		ops = append(ops, plans.NewPhysicalOperator(logicalOps[i], im.strategy, im.model))
	}
	pp, err := plans.NewPhysicalPlan(ops)
	testingpkg.Ok(t, err)
	return pp
}

func paperConvertPlan(t *testing.T) *planner.LogicalPlan {
	lp, err := planner.NewLogicalPlan("papers", testing_util.PaperSchema())
	testingpkg.Ok(t, err)
	lp, err = lp.Convert(testing_util.ExtractedPaperSchema(), planner.WithDependsOn("contents"))
	testingpkg.Ok(t, err)
	return lp
}

func TestIdentityPlanKeepsSourceRows(t *testing.T) {
	cfg := testing_util.NewTestConfig()
	engine, _ := newTestEngine(t, cfg, nil, newNumSource("nums", 25))
	lp, err := planner.NewLogicalPlan("nums", numSchema())
	testingpkg.Ok(t, err)
	lp, err = lp.Convert(numSchema())
	testingpkg.Ok(t, err)
	pp := buildPlan(t, lp, impl{plans.MarshalAndScan, ""}, impl{plans.SimpleConvert, ""})

	res, err := engine.Execute(context.Background(), pp, nil)
	testingpkg.Ok(t, err)
	testingpkg.Equals(t, 25, len(res.Records))
	for i, r := range res.Records {
		v, _ := r.GetValue("n")
		testingpkg.Equals(t, int64(i), v.ToInteger())
		prov := r.GetProvenance()
		testingpkg.Equals(t, int64(i), prov.SourceIndex)
		testingpkg.Equals(t, pp.Len(), len(prov.OpChain))
		testingpkg.Equals(t, pp.GetOperator(1).GetID(), prov.OpChain[1])
	}
	testingpkg.InDelta(t, 0, res.Stats.TotalCost(), 0)
}

func TestConvertAndStatisticsAppend(t *testing.T) {
	cfg := testing_util.NewTestConfig()
	engine, store := newTestEngine(t, cfg, newOracleClient(0), testing_util.NewPaperSource("papers", 6))
	pp := buildPlan(t, paperConvertPlan(t), impl{plans.MarshalAndScan, ""}, impl{plans.LLMConvertBonded, oracleModel})

	res, err := engine.Execute(context.Background(), pp, nil)
	testingpkg.Ok(t, err)
	testingpkg.Equals(t, 6, len(res.Records))
	for i, r := range res.Records {
		year, _ := r.GetValue("year")
		testingpkg.Equals(t, int64(2000+i), year.ToInteger())
	}
	testingpkg.InDelta(t, 0.06, res.Stats.TotalCost(), 1e-9)

	o, ok := store.Lookup("convert", pp.GetOperator(1).GetImplTag())
	testingpkg.Assert(t, ok, "convert statistics appended")
	testingpkg.Equals(t, int64(6), o.InputCount)
	testingpkg.Equals(t, int64(6), o.OutputCount)
	testingpkg.InDelta(t, 0.06, o.CostSum, 1e-9)
}

func TestRetriedInvocationsSucceed(t *testing.T) {
	cfg := testing_util.NewTestConfig()
	cfg.MaxRetries = 2
	client := testing_util.NewScriptedClient(newOracleClient(0))
	client.FailTimes(0, 1)
	client.FailTimes(2, 1)
	engine, _ := newTestEngine(t, cfg, client, testing_util.NewPaperSource("papers", 4))
	lp, err := paperConvertPlan(t).Filter(planner.NewPredicateFilter("title IS NOT NULL"))
	testingpkg.Ok(t, err)
	pp := buildPlan(t, lp, impl{plans.MarshalAndScan, ""}, impl{plans.LLMConvertBonded, oracleModel}, impl{plans.ExpressionFilter, ""})

	res, err := engine.Execute(context.Background(), pp, nil)
	testingpkg.Ok(t, err)
	testingpkg.Assert(t, len(res.Records) <= 4, "filter does not add records: %d", len(res.Records))
	testingpkg.Equals(t, 4, len(res.Records))
	op := res.Stats.GetOperator(1)
	testingpkg.Equals(t, int64(2), op.AttemptFailures)
	testingpkg.Equals(t, int64(0), op.Failures)
	testingpkg.Equals(t, int64(4), op.Invocations)
	testingpkg.Equals(t, 2, client.FailedCalls())
	// failed attempts are not charged
	testingpkg.InDelta(t, 0.04, res.Stats.TotalCost(), 1e-9)
}

func TestTimedOutInvocationIsOneFailedAttempt(t *testing.T) {
	cfg := testing_util.NewTestConfig()
	cfg.MaxRetries = 1
	cfg.InvocationTimeout = 20 * time.Millisecond
	client := testing_util.NewScriptedClient(newOracleClient(0))
	client.BlockWhen(func(req *inference.Request) bool {
		return req.Inputs[0].GetSourceIndex() == 1
	})
	engine, _ := newTestEngine(t, cfg, client, testing_util.NewPaperSource("papers", 3))
	pp := buildPlan(t, paperConvertPlan(t), impl{plans.MarshalAndScan, ""}, impl{plans.LLMConvertBonded, oracleModel})

	res, err := engine.Execute(context.Background(), pp, nil)
	testingpkg.Ok(t, err)
	testingpkg.Equals(t, 2, len(res.Records))
	op := res.Stats.GetOperator(1)
	// the first attempt and its retry both time out
	testingpkg.Equals(t, int64(2), op.AttemptFailures)
	testingpkg.Equals(t, int64(1), op.Failures)
	testingpkg.Equals(t, int64(2), op.Invocations)
	testingpkg.InDelta(t, 0.02, res.Stats.TotalCost(), 1e-9)
}

func TestExhaustedRetriesDropRecord(t *testing.T) {
	cfg := testing_util.NewTestConfig()
	cfg.MaxRetries = 1
	client := testing_util.NewScriptedClient(newOracleClient(0))
	client.FailTimes(1, 5)
	engine, _ := newTestEngine(t, cfg, client, testing_util.NewPaperSource("papers", 3))
	pp := buildPlan(t, paperConvertPlan(t), impl{plans.MarshalAndScan, ""}, impl{plans.LLMConvertBonded, oracleModel})

	res, err := engine.Execute(context.Background(), pp, nil)
	testingpkg.Ok(t, err)
	testingpkg.Equals(t, 2, len(res.Records))
	op := res.Stats.GetOperator(1)
	testingpkg.Equals(t, int64(1), op.Failures)
	testingpkg.Equals(t, int64(2), op.AttemptFailures)
	testingpkg.Equals(t, int64(1), res.Stats.TotalFailures())
}

func TestLimitStopsUpstreamWork(t *testing.T) {
	cfg := testing_util.NewTestConfig()
	cfg.PipelineQueueSize = 2
	engine, _ := newTestEngine(t, cfg, newOracleClient(0.01), testing_util.NewPaperSource("papers", 40))
	lp, err := paperConvertPlan(t).Limit(3)
	testingpkg.Ok(t, err)
	pp := buildPlan(t, lp, impl{plans.MarshalAndScan, ""}, impl{plans.LLMConvertBonded, oracleModel}, impl{plans.LimitStrategy, ""})

	res, err := engine.Execute(context.Background(), pp, nil)
	testingpkg.Ok(t, err)
	testingpkg.Equals(t, 3, len(res.Records))
	convert := res.Stats.GetOperator(1)
	testingpkg.Assert(t, convert.Invocations < 40, "convert stopped early: %d invocations", convert.Invocations)
	testingpkg.Assert(t, res.Stats.TotalCost() < 0.4, "cost is cut off: %f", res.Stats.TotalCost())
	testingpkg.Equals(t, int64(3), res.Stats.GetOperator(2).RecordsOut)
}

func TestCancellationReturnsPartialResult(t *testing.T) {
	cfg := testing_util.NewTestConfig()
	cfg.MaxWorkersPerStage = 10
	cfg.CancellationGrace = 0
	client := testing_util.NewScriptedClient(newOracleClient(0))
	client.BlockWhen(func(req *inference.Request) bool {
		return req.Inputs[0].GetSourceIndex() >= 2
	})
	engine, _ := newTestEngine(t, cfg, client, testing_util.NewPaperSource("papers", 10))
	pp := buildPlan(t, paperConvertPlan(t), impl{plans.MarshalAndScan, ""}, impl{plans.LLMConvertBonded, oracleModel})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var mutex sync.Mutex
	completed := 0
	observer := stats.FuncObserver(func(ev stats.Event) {
		if ev.Type != stats.RecordCompleted || ev.Stage != 1 {
			return
		}
		mutex.Lock()
		defer mutex.Unlock()
		completed++
		if completed == 2 {
			cancel()
		}
	})

	start := time.Now()
	res, err := engine.Execute(ctx, pp, observer)
	testingpkg.ErrorIs(t, err, common.ErrExecutionCancelled)
	testingpkg.Assert(t, res != nil, "partial result is returned")
	testingpkg.Equals(t, 2, len(res.Records))
	testingpkg.Equals(t, int64(2), res.Stats.GetOperator(1).Invocations)
	testingpkg.InDelta(t, 0.02, res.Stats.TotalCost(), 1e-9)
	testingpkg.Assert(t, time.Since(start) < 5*time.Second, "blocked invocations were abandoned")
}

func TestUnrecoverableErrorAborts(t *testing.T) {
	cfg := testing_util.NewTestConfig()
	engine, _ := newTestEngine(t, cfg, newOracleClient(0), testing_util.NewPaperSource("papers", 5))
	pp := buildPlan(t, paperConvertPlan(t), impl{plans.MarshalAndScan, ""}, impl{plans.LLMConvertBonded, "no-such-model"})

	res, err := engine.Execute(context.Background(), pp, nil)
	testingpkg.ErrorIs(t, err, common.ErrExecutionAborted)
	testingpkg.Assert(t, res != nil, "result is returned with the error")
	var aborted *ExecutionAbortedError
	testingpkg.Assert(t, errors.As(err, &aborted), "error carries the stage")
	testingpkg.Equals(t, 1, aborted.Stage)
}

func TestFiltersAndAggregates(t *testing.T) {
	cfg := testing_util.NewTestConfig()
	engine, _ := newTestEngine(t, cfg, newOracleClient(0), newNumSource("nums", 10), testing_util.NewPaperSource("papers", 9))

	base, err := planner.NewLogicalPlan("nums", numSchema())
	testingpkg.Ok(t, err)
	filtered, err := base.Filter(planner.NewPredicateFilter("n >= 5"))
	testingpkg.Ok(t, err)

	counted, err := filtered.Count()
	testingpkg.Ok(t, err)
	res, err := engine.Execute(context.Background(), buildPlan(t, counted,
		impl{plans.MarshalAndScan, ""}, impl{plans.ExpressionFilter, ""}, impl{plans.CountAggregate, ""}), nil)
	testingpkg.Ok(t, err)
	testingpkg.Equals(t, 1, len(res.Records))
	cnt, _ := res.Records[0].GetValue(planner.CountColumnName)
	testingpkg.Equals(t, int64(5), cnt.ToInteger())
	testingpkg.Equals(t, 5, len(res.Records[0].GetProvenance().ParentIDs))

	averaged, err := filtered.Average("n")
	testingpkg.Ok(t, err)
	res, err = engine.Execute(context.Background(), buildPlan(t, averaged,
		impl{plans.MarshalAndScan, ""}, impl{plans.ExpressionFilter, ""}, impl{plans.AverageAggregate, ""}), nil)
	testingpkg.Ok(t, err)
	avg, _ := res.Records[0].GetValue(planner.AverageColumnName)
	testingpkg.InDelta(t, 7.0, avg.ToFloat(), 1e-9)

	papers, err := planner.NewLogicalPlan("papers", testing_util.PaperSchema())
	testingpkg.Ok(t, err)
	papers, err = papers.Filter(planner.NewFilter("the paper is about databases"))
	testingpkg.Ok(t, err)
	res, err = engine.Execute(context.Background(), buildPlan(t, papers,
		impl{plans.MarshalAndScan, ""}, impl{plans.LLMFilter, oracleModel}), nil)
	testingpkg.Ok(t, err)
	testingpkg.Equals(t, 3, len(res.Records))
	for _, r := range res.Records {
		testingpkg.Equals(t, int64(0), r.GetSourceIndex()%3)
	}
}

func TestUDF(t *testing.T) {
	cfg := testing_util.NewTestConfig()
	engine, _ := newTestEngine(t, cfg, nil, newNumSource("nums", 4))
	doubled := schema.NewSchema("Doubled", []*column.Column{column.NewColumn("m", types.Integer, "", true)})
	double := func(ctx context.Context, in *record.Record) ([]map[string]types.Value, error) {
		v, _ := in.GetValue("n")
		return []map[string]types.Value{{"m": types.NewInteger(v.ToInteger() * 2)}}, nil
	}
	lp, err := planner.NewLogicalPlan("nums", numSchema())
	testingpkg.Ok(t, err)
	udf, err := lp.UDF("double", doubled, double)
	testingpkg.Ok(t, err)
	res, err := engine.Execute(context.Background(), buildPlan(t, udf, impl{plans.MarshalAndScan, ""}, impl{plans.ApplyUDF, ""}), nil)
	testingpkg.Ok(t, err)
	testingpkg.Equals(t, 4, len(res.Records))
	m, _ := res.Records[3].GetValue("m")
	testingpkg.Equals(t, int64(6), m.ToInteger())

	// output which does not fit the declared schema is fatal
	broken := func(ctx context.Context, in *record.Record) ([]map[string]types.Value, error) {
		return []map[string]types.Value{{"m": types.NewVarchar("not a number")}}, nil
	}
	bad, err := lp.UDF("broken", doubled, broken)
	testingpkg.Ok(t, err)
	_, err = engine.Execute(context.Background(), buildPlan(t, bad, impl{plans.MarshalAndScan, ""}, impl{plans.ApplyUDF, ""}), nil)
	testingpkg.ErrorIs(t, err, common.ErrExecutionAborted)
}

func TestRunSampleDoesNotTouchSharedState(t *testing.T) {
	cfg := testing_util.NewTestConfig()
	engine, store := newTestEngine(t, cfg, newOracleClient(0), testing_util.NewPaperSource("papers", 3))
	sampler := NewExecutionEngine(engine.GetContext().WithoutSharedState())
	lp := paperConvertPlan(t)
	ops := lp.Operations()
	inputs := make([]*record.Record, 0)
	for i, row := range []string{"title: a\nyear: 2001\n", "title: b\nyear: 2002\n"} {
		r, err := record.NewSourceRecord("papers", int64(i), ops[0].GetID(), testing_util.PaperSchema(),
			testing_util.MakeRow(map[string]interface{}{"filename": "f", "contents": row}))
		testingpkg.Ok(t, err)
		inputs = append(inputs, r)
	}
	res, err := sampler.RunSample(context.Background(), plans.NewPhysicalOperator(ops[1], plans.LLMConvertBonded, oracleModel), inputs)
	testingpkg.Ok(t, err)
	testingpkg.Equals(t, 2, res.Succeeded)
	testingpkg.Equals(t, 2, len(res.Outputs))
	testingpkg.InDelta(t, 0.02, res.Cost, 1e-9)
	testingpkg.Equals(t, 0, store.Snapshot().Len())
}

func expectedPaperTitle(i int) string {
	topic := "vision"
	if i%3 == 0 {
		topic = "databases"
	}
	return fmt.Sprintf("paper %d on %s", i, topic)
}

func assertPapersConverted(t *testing.T, records []*record.Record, n int) {
	testingpkg.Equals(t, n, len(records))
	for i, r := range records {
		year, _ := r.GetValue("year")
		testingpkg.Equals(t, int64(2000+i), year.ToInteger())
		title, _ := r.GetValue("title")
		testingpkg.Equals(t, expectedPaperTitle(i), title.ToVarchar())
	}
}

func TestConvertStrategies(t *testing.T) {
	cases := []struct {
		name     string
		strategy plans.Strategy
		batch    int
		// client calls for 10 records with one worker
		minCalls int
		maxCalls int
	}{
		{"bonded", plans.LLMConvertBonded, 1, 10, 10},
		{"conventional", plans.LLMConvertConventional, 1, 20, 20},
		{"bonded with fallback", plans.LLMConvertBondedWithFallback, 1, 10, 10},
		// a batch takes what is queued, up to 4 records
		{"batched", plans.BatchedBondedConvert, 4, 3, 10},
		// three exemplars and one synthesis, the program does the rest
		{"code synthesis", plans.CodeSynthesisConvert, 1, 4, 4},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			cfg := testing_util.NewTestConfig()
			cfg.MaxWorkersPerStage = 1
			cfg.CodeSynthExemplars = 3
			client := testing_util.NewScriptedClient(newOracleClient(0))
			engine, _ := newTestEngine(t, cfg, client, testing_util.NewPaperSource("papers", 10))
			ops := paperConvertPlan(t).Operations()
			convert := plans.NewPhysicalOperator(ops[1], c.strategy, oracleModel).WithBatchSize(c.batch)
			pp, err := plans.NewPhysicalPlan([]*plans.PhysicalOperator{plans.NewPhysicalOperator(ops[0], plans.MarshalAndScan, ""), convert})
			testingpkg.Ok(t, err)

			res, err := engine.Execute(context.Background(), pp, nil)
			testingpkg.Ok(t, err)
			assertPapersConverted(t, res.Records, 10)
			calls := client.Calls()
			testingpkg.Assert(t, c.minCalls <= calls && calls <= c.maxCalls, "%d calls", calls)
			testingpkg.Equals(t, int64(0), res.Stats.GetOperator(1).Failures)
		})
	}
}

func TestSynthesizedProgramIsReused(t *testing.T) {
	cfg := testing_util.NewTestConfig()
	cfg.MaxWorkersPerStage = 1
	cfg.CodeSynthExemplars = 3
	client := testing_util.NewScriptedClient(newOracleClient(0))
	engine, _ := newTestEngine(t, cfg, client, testing_util.NewPaperSource("papers", 6))
	pp := buildPlan(t, paperConvertPlan(t), impl{plans.MarshalAndScan, ""}, impl{plans.CodeSynthesisConvert, oracleModel})

	res, err := engine.Execute(context.Background(), pp, nil)
	testingpkg.Ok(t, err)
	assertPapersConverted(t, res.Records, 6)
	testingpkg.Equals(t, 4, client.Calls())
	_, cached := engine.GetContext().GetProgramCache().Get(pp.GetOperator(1))
	testingpkg.Assert(t, cached, "program is cached")

	// a later execution starts with the cached program
	res, err = engine.Execute(context.Background(), pp, nil)
	testingpkg.Ok(t, err)
	assertPapersConverted(t, res.Records, 6)
	testingpkg.Equals(t, 4, client.Calls())
	testingpkg.InDelta(t, 0, res.Stats.TotalCost(), 0)
}

// forgetfulClient loses one attribute in answers to calls asking for more
// than one attribute. the responses it handed out are kept.
type forgetfulClient struct {
	inner     inference.Client
	forget    string
	mutex     sync.Mutex
	responses []*inference.Response
}

func (fc *forgetfulClient) Invoke(ctx context.Context, req *inference.Request) (*inference.Response, error) {
	resp, err := fc.inner.Invoke(ctx, req)
	if err != nil || req.Task != inference.GenerateTask || len(req.Fields) < 2 {
		return resp, err
	}
	ret := *resp
	ret.Outputs = make([][]map[string]types.Value, len(resp.Outputs))
	for i, answers := range resp.Outputs {
		for _, answer := range answers {
			m := make(map[string]types.Value, len(answer))
			for k, v := range answer {
				if k != fc.forget {
					m[k] = v
				}
			}
			ret.Outputs[i] = append(ret.Outputs[i], m)
		}
	}
	fc.mutex.Lock()
	fc.responses = append(fc.responses, &ret)
	fc.mutex.Unlock()
	return &ret, nil
}

func TestFallbackFillsMissingRequiredAttribute(t *testing.T) {
	cfg := testing_util.NewTestConfig()
	forgetful := &forgetfulClient{inner: newOracleClient(0), forget: "year"}
	client := testing_util.NewScriptedClient(forgetful)
	engine, _ := newTestEngine(t, cfg, client, testing_util.NewPaperSource("papers", 5))
	ops := paperConvertPlan(t).Operations()
	pp, err := plans.NewPhysicalPlan([]*plans.PhysicalOperator{
		plans.NewPhysicalOperator(ops[0], plans.MarshalAndScan, ""),
		plans.NewPhysicalOperator(ops[1], plans.LLMConvertBondedWithFallback, oracleModel).WithFallbackModel(oracleModel),
	})
	testingpkg.Ok(t, err)

	res, err := engine.Execute(context.Background(), pp, nil)
	testingpkg.Ok(t, err)
	assertPapersConverted(t, res.Records, 5)
	// one bonded and one fallback call per record
	testingpkg.Equals(t, 10, client.Calls())
	testingpkg.Equals(t, 5, len(forgetful.responses))
	for _, resp := range forgetful.responses {
		_, patched := resp.Outputs[0][0]["year"]
		testingpkg.AssertFalse(t, patched, "client response is left untouched")
	}
}
