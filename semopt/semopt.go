package semopt

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/ryogrid/SemOptDB/catalog"
	"github.com/ryogrid/SemOptDB/common"
	"github.com/ryogrid/SemOptDB/execution/executors"
	"github.com/ryogrid/SemOptDB/execution/plans"
	"github.com/ryogrid/SemOptDB/execution/stats"
	"github.com/ryogrid/SemOptDB/inference"
	"github.com/ryogrid/SemOptDB/planner"
	"github.com/ryogrid/SemOptDB/planner/optimizer"
	"github.com/ryogrid/SemOptDB/semopt/semopt_util"
	"github.com/ryogrid/SemOptDB/storage/record"
	"github.com/ryogrid/SemOptDB/storage/source"
	"github.com/ryogrid/SemOptDB/storage/table/schema"
)

var ErrShutdown = errors.New("semopt is shut down")

type SemOptDB struct {
	soi_         *SemOptInstance
	catalog_     *catalog.Catalog
	exec_engine_ *executors.ExecutionEngine
	optimizer_   *optimizer.SemanticOptimizer
	planner_     *planner.SpecPlanner
	metrics_     *prometheus.Registry
	observers    []stats.Observer

	// cancelled by Shutdown, every run derives from it
	shutdownCtx    context.Context
	shutdownCancel context.CancelCauseFunc
	mutex          sync.Mutex
	isShutdown     bool
	running        sync.WaitGroup
}

// RunResult is what callers get back from Run. Records and Report are set
// even when the execution failed midway.
type RunResult struct {
	Records      []*record.Record
	Report       *stats.Report
	Optimization *optimizer.OptimizationResult
}

// OutputSchema is the schema of Records
func (rr *RunResult) OutputSchema() *schema.Schema {
	plan := rr.Optimization.Selected
	return plan.GetOperator(plan.Len() - 1).GetOutputSchema()
}

type runOptions struct {
	observer stats.Observer
}

type RunOption func(*runOptions)

// WithObserver adds observer to the event stream of the execution
func WithObserver(observer stats.Observer) RunOption {
	return func(o *runOptions) { o.observer = observer }
}

func newEventLogger(logLevel common.LogLevel) log.Logger {
	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	logger = log.With(logger, "ts", log.DefaultTimestampUTC)
	switch {
	case logLevel&(common.DEBUG_INFO|common.DEBUG_INFO_DETAIL) > 0:
		return level.NewFilter(logger, level.AllowDebug())
	case logLevel&common.INFO > 0:
		return level.NewFilter(logger, level.AllowInfo())
	}
	return level.NewFilter(logger, level.AllowWarn())
}

// NewSemOptDB creates an instance with its own catalog and statistics store.
// sources listed in cfg are registered.
func NewSemOptDB(cfg *common.Config, client inference.Client) (*SemOptDB, error) {
	if cfg == nil {
		cfg = common.NewDefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.ApplyLogLevel()
	if client == nil {
		return nil, errors.New("inference client is nil")
	}
	soi, err := NewSemOptInstance(cfg)
	if err != nil {
		return nil, err
	}

	c := catalog.NewCatalog()
	context_ := executors.NewExecutorContext(c, client, cfg, soi.GetStatisticsStore(), soi.GetProgramCache())
	registry := prometheus.NewRegistry()
	shutdownCtx, shutdownCancel := context.WithCancelCause(context.Background())
	sdb := &SemOptDB{
		soi_:         soi,
		catalog_:     c,
		exec_engine_: executors.NewExecutionEngine(context_),
		optimizer_:   optimizer.NewSemanticOptimizer(c, client, cfg, soi.GetModelRegistry(), soi.GetStatisticsStore()),
		planner_:     planner.NewSpecPlanner(c),
		metrics_:     registry,
		observers: []stats.Observer{
			stats.NewLogObserver(newEventLogger(common.LogLevelSetting)),
			stats.NewMetricsObserver(registry),
		},
		shutdownCtx:    shutdownCtx,
		shutdownCancel: shutdownCancel,
	}
	for _, sc := range cfg.Sources {
		ds, err := NewSourceFromConfig(sc)
		if err == nil {
			err = sdb.RegisterSource(ds)
		}
		if err != nil {
			sdb.Shutdown()
			return nil, err
		}
	}
	return sdb, nil
}

// NewSourceFromConfig opens a "directory" or "jsonl" source
func NewSourceFromConfig(sc common.SourceConfig) (source.DataSource, error) {
	switch sc.Kind {
	case "directory":
		return source.NewDirectorySource(sc.ID, sc.Path)
	case "jsonl":
		sch, err := schema.NewSchemaFromConfig(sc.Schema)
		if err != nil {
			return nil, errors.Wrapf(err, "schema of source %s", sc.ID)
		}
		return source.NewJSONLinesSource(sc.ID, sc.Path, sch)
	}
	return nil, errors.Newf("unknown source kind %q of %s", sc.Kind, sc.ID)
}

func (sdb *SemOptDB) RegisterSource(ds source.DataSource) error {
	_, err := sdb.catalog_.RegisterSource(ds)
	return err
}

// RegisterUDF makes fn usable from plan specs
func (sdb *SemOptDB) RegisterUDF(name string, fn planner.UDFFunc) {
	sdb.planner_.RegisterUDF(name, fn)
}

func (sdb *SemOptDB) GetCatalog() *catalog.Catalog {
	return sdb.catalog_
}

func (sdb *SemOptDB) GetInstance() *SemOptInstance {
	return sdb.soi_
}

func (sdb *SemOptDB) GetMetricsRegistry() *prometheus.Registry {
	return sdb.metrics_
}

func (sdb *SemOptDB) SetValidationSet(vs *optimizer.ValidationSet) {
	sdb.optimizer_.SetValidationSet(vs)
}

// NewLogicalPlan starts a plan scanning a registered source
func (sdb *SemOptDB) NewLogicalPlan(sourceID string) (*planner.LogicalPlan, error) {
	meta, err := sdb.catalog_.GetSourceByName(sourceID)
	if err != nil {
		return nil, err
	}
	return planner.NewLogicalPlan(sourceID, meta.Schema())
}

func (sdb *SemOptDB) MakePlan(spec *planner.PlanSpec) (*planner.LogicalPlan, error) {
	return sdb.planner_.MakePlan(spec)
}

// enter registers a run. the returned context is cancelled by Shutdown.
func (sdb *SemOptDB) enter(ctx context.Context) (context.Context, func(), error) {
	sdb.mutex.Lock()
	defer sdb.mutex.Unlock()
	if sdb.isShutdown {
		return nil, nil, ErrShutdown
	}
	sdb.running.Add(1)
	runCtx, cancel := context.WithCancelCause(ctx)
	stop := context.AfterFunc(sdb.shutdownCtx, func() {
		cancel(context.Cause(sdb.shutdownCtx))
	})
	return runCtx, func() {
		stop()
		cancel(nil)
		sdb.running.Done()
	}, nil
}

func (sdb *SemOptDB) Optimize(ctx context.Context, lp *planner.LogicalPlan, policy optimizer.Policy) (*optimizer.OptimizationResult, error) {
	runCtx, leave, err := sdb.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer leave()
	return sdb.optimizer_.Optimize(runCtx, lp, policy)
}

// Execute runs plan as is. see executors.ExecutionEngine.Execute for the
// partial result contract.
func (sdb *SemOptDB) Execute(ctx context.Context, plan *plans.PhysicalPlan, observer stats.Observer) (*executors.ExecutionResult, error) {
	runCtx, leave, err := sdb.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer leave()
	return sdb.exec_engine_.Execute(runCtx, plan, sdb.observerWith(observer))
}

func (sdb *SemOptDB) observerWith(observer stats.Observer) stats.Observer {
	ret := make(stats.MultiObserver, 0, len(sdb.observers)+1)
	ret = append(ret, sdb.observers...)
	if observer != nil {
		ret = append(ret, observer)
	}
	return ret
}

// Run optimizes lp under policy and executes the selected plan
func (sdb *SemOptDB) Run(ctx context.Context, lp *planner.LogicalPlan, policy optimizer.Policy, opts ...RunOption) (*RunResult, error) {
	o := &runOptions{}
	for _, opt := range opts {
		opt(o)
	}
	runCtx, leave, err := sdb.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer leave()

	opt, err := sdb.optimizer_.Optimize(runCtx, lp, policy)
	if err != nil {
		return nil, err
	}
	common.ShPrintf(common.INFO, "Run: %s", opt.Selected.Explain())
	res, execErr := sdb.exec_engine_.Execute(runCtx, opt.Selected, sdb.observerWith(o.observer))
	res.Stats.SetOptimization(opt.OptimizationCost, opt.OptimizationTime)
	ret := &RunResult{
		Records:      res.Records,
		Report:       stats.NewReport(res.Stats, opt.Selected.String()),
		Optimization: opt,
	}
	return ret, execErr
}

// RunSpec builds the plan from spec and runs it
func (sdb *SemOptDB) RunSpec(ctx context.Context, spec *planner.PlanSpec, policy optimizer.Policy, opts ...RunOption) (*RunResult, error) {
	lp, err := sdb.MakePlan(spec)
	if err != nil {
		return nil, err
	}
	return sdb.Run(ctx, lp, policy, opts...)
}

// RecordQuality feeds an externally judged quality in [0, 1] of an executed
// operator into the statistics store. later historical estimates use it.
func (sdb *SemOptDB) RecordQuality(op stats.OperatorStats, quality float64) error {
	if quality < 0 || quality > 1 {
		return errors.Newf("quality must be in [0, 1]: %f", quality)
	}
	return sdb.soi_.GetStatisticsStore().Append(catalog.Observation{
		Kind:         op.Kind,
		ImplTag:      op.ImplTag,
		QualityCount: 1,
		QualitySum:   quality,
	})
}

// Shutdown cancels in-flight runs, waits for them and closes the statistics
// store. calling it twice is harmless.
func (sdb *SemOptDB) Shutdown() {
	sdb.mutex.Lock()
	if sdb.isShutdown {
		sdb.mutex.Unlock()
		return
	}
	sdb.isShutdown = true
	sdb.mutex.Unlock()

	sdb.shutdownCancel(ErrShutdown)
	sdb.running.Wait()
	if err := sdb.soi_.Shutdown(false); err != nil {
		common.ShPrintf(common.ERROR, "Shutdown: %v\n", err)
	}
}

func PrintRunResult(schema_ *schema.Schema, res *RunResult) {
	fmt.Println("----")
	for _, row := range semopt_util.ConvRecordListToRows(schema_, res.Records) {
		for _, val := range row {
			fmt.Printf("%v ", val)
		}
		fmt.Println("")
	}
	fmt.Print(res.Report)
}
