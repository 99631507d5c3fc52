package executors

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ryogrid/SemOptDB/catalog"
	"github.com/ryogrid/SemOptDB/common"
	"github.com/ryogrid/SemOptDB/execution/plans"
	"github.com/ryogrid/SemOptDB/execution/stats"
	"github.com/ryogrid/SemOptDB/inference"
	"github.com/ryogrid/SemOptDB/storage/record"
	"golang.org/x/exp/slices"
	"golang.org/x/sync/errgroup"
)

var errLimitReached = errors.New("limit reached")

// ExecutionResult holds the records which reached the end of the plan
type ExecutionResult struct {
	Records []*record.Record
	Stats   *stats.PlanStats
}

// ExecutionAbortedError is returned with the partial result when a fatal
// condition stops the execution
type ExecutionAbortedError struct {
	Result *ExecutionResult
	Stage  int
	Cause  error
}

func (e *ExecutionAbortedError) Error() string {
	return fmt.Sprintf("execution aborted at stage %d: %v", e.Stage, e.Cause)
}

func (e *ExecutionAbortedError) Unwrap() error {
	return e.Cause
}

// isFatal reports whether err stops the whole execution instead of one record
func isFatal(err error) bool {
	if errors.Is(err, common.ErrExecutionAborted) || errors.Is(err, inference.ErrUnrecoverable) {
		return true
	}
	return errors.Is(err, common.ErrSchemaMismatch) && !errors.Is(err, common.ErrInvocationFailure)
}

type ExecutionEngine struct {
	context *ExecutorContext
}

func NewExecutionEngine(context *ExecutorContext) *ExecutionEngine {
	return &ExecutionEngine{context}
}

func (e *ExecutionEngine) GetContext() *ExecutorContext {
	return e.context
}

func (e *ExecutionEngine) CreateExecutor(op *plans.PhysicalOperator) (Executor, error) {
	switch op.GetStrategy() {
	case plans.MarshalAndScan:
		return NewScanExecutor(e.context, op), nil
	case plans.SimpleConvert:
		return NewSimpleConvertExecutor(e.context, op), nil
	case plans.LLMConvertBonded:
		return NewLLMConvertBondedExecutor(e.context, op), nil
	case plans.LLMConvertConventional:
		return NewLLMConvertConventionalExecutor(e.context, op), nil
	case plans.LLMConvertBondedWithFallback:
		return NewLLMConvertBondedWithFallbackExecutor(e.context, op), nil
	case plans.BatchedBondedConvert:
		return NewBatchedBondedConvertExecutor(e.context, op), nil
	case plans.CodeSynthesisConvert:
		return NewCodeSynthesisConvertExecutor(e.context, op), nil
	case plans.LLMFilter:
		return NewLLMFilterExecutor(e.context, op), nil
	case plans.ExpressionFilter:
		return NewExpressionFilterExecutor(e.context, op), nil
	case plans.CountAggregate, plans.AverageAggregate:
		return NewAggregationExecutor(e.context, op), nil
	case plans.LimitStrategy:
		return NewLimitExecutor(e.context, op), nil
	case plans.ApplyUDF:
		return NewUDFExecutor(e.context, op), nil
	}
	return nil, errors.Mark(errors.Newf("no executor for strategy %s", op.GetStrategy()), common.ErrInvalidPlan)
}

// observationBuffer batches statistics appends of one stage
type observationBuffer struct {
	mutex   sync.Mutex
	store   *catalog.StatisticsStore
	every   int
	pending catalog.Observation
}

func newObservationBuffer(store *catalog.StatisticsStore, every int, op *plans.PhysicalOperator) *observationBuffer {
	return &observationBuffer{
		store:   store,
		every:   every,
		pending: catalog.Observation{Kind: op.GetKind().String(), ImplTag: op.GetImplTag()},
	}
}

func (b *observationBuffer) add(in int, out int, cost float64, elapsed time.Duration) {
	if b.store == nil {
		return
	}
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.pending.Invocations++
	b.pending.InputCount += int64(in)
	b.pending.OutputCount += int64(out)
	b.pending.CostSum += cost
	b.pending.TimeSum += elapsed.Seconds()
	if int(b.pending.Invocations) >= b.every {
		b.flushInner()
	}
}

func (b *observationBuffer) flush() {
	if b.store == nil {
		return
	}
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.flushInner()
}

func (b *observationBuffer) flushInner() {
	if b.pending.Invocations == 0 {
		return
	}
	if err := b.store.Append(b.pending); err != nil {
		common.ShPrintf(common.WARN, "statistics append of %s failed: %v\n", b.pending.ImplTag, err)
	}
	b.pending = catalog.Observation{Kind: b.pending.Kind, ImplTag: b.pending.ImplTag}
}

type stage struct {
	idx  int
	exec Executor
	op   *plans.PhysicalOperator
	// done when the stage must stop taking input
	ctx    context.Context
	cancel context.CancelCauseFunc
	// invocations run under invokeCtx, which outlives ctx by the grace period
	invokeCtx    context.Context
	invokeCancel context.CancelFunc
	in           <-chan *record.Record
	out          chan *record.Record
	// closed when the stage stops reading in
	stopped chan struct{}
	// stopped of the next stage
	downstreamStopped <-chan struct{}
	obs               *observationBuffer
}

func (st *stage) send(r *record.Record) bool {
	select {
	case st.out <- r:
		return true
	case <-st.downstreamStopped:
		return false
	}
}

// readBatch returns nil when the stage must stop reading
func (st *stage) readBatch(n int) []*record.Record {
	if lim, ok := st.exec.(*LimitExecutor); ok && lim.Reached() {
		return nil
	}
	if st.ctx.Err() != nil {
		return nil
	}
	var first *record.Record
	select {
	case <-st.ctx.Done():
		return nil
	case r, ok := <-st.in:
		if !ok {
			return nil
		}
		first = r
	}
	batch := []*record.Record{first}
	for len(batch) < n {
		select {
		case r, ok := <-st.in:
			if !ok {
				return batch
			}
			batch = append(batch, r)
		default:
			return batch
		}
	}
	return batch
}

// runState is shared by the stages of one execution
type runState struct {
	config     *common.Config
	stats      *stats.PlanStats
	dispatcher *stats.Dispatcher
	stages     []*stage
	abort      context.CancelCauseFunc
	mutex      sync.Mutex
	fatalErr   error
	fatalStage int
}

func (rs *runState) fatal(stageIdx int, err error) {
	rs.mutex.Lock()
	defer rs.mutex.Unlock()
	if rs.fatalErr != nil {
		return
	}
	rs.fatalErr = err
	rs.fatalStage = stageIdx
	common.ShPrintf(common.ERROR, "execution aborted at stage %d: %v\n", stageIdx, err)
	if common.LogLevelSetting&common.DEBUGGING > 0 {
		common.RuntimeStack()
	}
	rs.abort(errors.Mark(err, common.ErrExecutionAborted))
}

func (rs *runState) emit(st *stage, typ stats.EventType, mod func(ev *stats.Event)) {
	ev := stats.Event{Type: typ, Stage: st.idx, OpID: st.op.GetID(), Kind: st.op.GetKind().String(), ImplTag: st.op.GetImplTag()}
	if mod != nil {
		mod(&ev)
	}
	rs.dispatcher.Emit(ev)
}

func (rs *runState) workersOf(op *plans.PhysicalOperator) int {
	switch {
	case op.GetStrategy() == plans.LimitStrategy, op.GetStrategy().IsBlocking():
		return 1
	}
	return rs.config.MaxWorkersPerStage
}

// Execute runs plan over the whole source. records which were produced are
// returned even when an error is returned: the error is marked
// ErrExecutionAborted after a fatal condition and ErrExecutionCancelled when
// ctx is cancelled.
func (e *ExecutionEngine) Execute(ctx context.Context, plan *plans.PhysicalPlan, observer stats.Observer) (*ExecutionResult, error) {
	startTime := time.Now()
	config := e.context.GetConfig()
	planStats := stats.NewPlanStats(plan)
	result := &ExecutionResult{Records: make([]*record.Record, 0), Stats: planStats}

	runCtx, abort := context.WithCancelCause(ctx)
	defer abort(nil)
	rs := &runState{
		config:     config,
		stats:      planStats,
		dispatcher: stats.NewDispatcher(observer),
		abort:      abort,
	}

	// stage i is cancelled together with every stage before it
	n := plan.Len()
	rs.stages = make([]*stage, n)
	parent := runCtx
	for i := n - 1; i >= 0; i-- {
		op := plan.GetOperator(i)
		exec, err := e.CreateExecutor(op)
		if err == nil {
			err = exec.Init(runCtx)
		}
		if err != nil {
			for j := i + 1; j < n; j++ {
				rs.stages[j].invokeCancel()
				rs.stages[j].cancel(nil)
			}
			rs.dispatcher.Close()
			planStats.SetWallTime(time.Since(startTime))
			return result, errors.Mark(&ExecutionAbortedError{Result: result, Stage: i, Cause: err}, common.ErrExecutionAborted)
		}
		stageCtx, cancel := context.WithCancelCause(parent)
		invokeCtx, invokeCancel := context.WithCancel(context.WithoutCancel(stageCtx))
		rs.stages[i] = &stage{
			idx:          i,
			exec:         exec,
			op:           op,
			ctx:          stageCtx,
			cancel:       cancel,
			invokeCtx:    invokeCtx,
			invokeCancel: invokeCancel,
			out:          make(chan *record.Record, config.PipelineQueueSize),
			stopped:      make(chan struct{}),
			obs:          newObservationBuffer(e.context.GetStatisticsStore(), config.StatsFlushEvery, op),
		}
		parent = stageCtx
	}
	// the result collector never stops reading
	never := make(chan struct{})
	for i, st := range rs.stages {
		if i > 0 {
			st.in = rs.stages[i-1].out
		}
		if i+1 < n {
			st.downstreamStopped = rs.stages[i+1].stopped
		} else {
			st.downstreamStopped = never
		}
		e.watchCancellation(st, config.CancellationGrace)
	}

	var wg sync.WaitGroup
	for _, st := range rs.stages {
		wg.Add(1)
		go func(st *stage) {
			defer wg.Done()
			if scan, ok := st.exec.(*ScanExecutor); ok {
				e.runScan(st, scan, rs)
				return
			}
			e.runStage(st, rs)
		}(st)
	}
	for r := range rs.stages[n-1].out {
		result.Records = append(result.Records, r)
	}
	wg.Wait()

	if config.OrderedOutput {
		slices.SortStableFunc(result.Records, func(a, b *record.Record) int {
			switch {
			case a.GetSourceIndex() < b.GetSourceIndex():
				return -1
			case a.GetSourceIndex() > b.GetSourceIndex():
				return 1
			}
			return 0
		})
	}
	planStats.SetWallTime(time.Since(startTime))

	var retErr error
	rs.mutex.Lock()
	fatalErr, fatalStage := rs.fatalErr, rs.fatalStage
	rs.mutex.Unlock()
	switch {
	case fatalErr != nil:
		retErr = errors.Mark(&ExecutionAbortedError{Result: result, Stage: fatalStage, Cause: fatalErr}, common.ErrExecutionAborted)
	case ctx.Err() != nil:
		retErr = errors.Mark(errors.Wrapf(context.Cause(ctx), "execution cancelled with %d records", len(result.Records)), common.ErrExecutionCancelled)
	}
	rs.dispatcher.Emit(stats.Event{
		Type:    stats.ExecutionFinished,
		Stage:   n - 1,
		Cost:    planStats.TotalCost(),
		Elapsed: planStats.GetWallTime(),
		Outputs: len(result.Records),
		Err:     retErr,
	})
	rs.dispatcher.Close()
	common.ShPrintf(common.DEBUG_INFO, "Execute: %s produced %d records in %s\n", plan.GetPlanID(), len(result.Records), planStats.GetWallTime())
	return result, retErr
}

// watchCancellation cancels the invocations of st once st is cancelled.
// external cancellation leaves in-flight invocations grace to finish.
func (e *ExecutionEngine) watchCancellation(st *stage, grace time.Duration) {
	context.AfterFunc(st.ctx, func() {
		cause := context.Cause(st.ctx)
		if grace <= 0 || errors.Is(cause, errLimitReached) || errors.Is(cause, common.ErrExecutionAborted) {
			st.invokeCancel()
			return
		}
		time.AfterFunc(grace, st.invokeCancel)
	})
}

func (e *ExecutionEngine) runScan(st *stage, scan *ScanExecutor, rs *runState) {
	defer close(st.out)
	defer st.invokeCancel()
	defer scan.Close()
	close(st.stopped)
	rs.emit(st, stats.OperatorStarted, nil)
	for st.ctx.Err() == nil {
		start := time.Now()
		r, done, err := scan.Next()
		if err != nil {
			if st.ctx.Err() != nil {
				break
			}
			if !done && errors.Is(err, common.ErrSchemaMismatch) {
				common.ShPrintf(common.WARN, "scan: dropped %v\n", err)
				rs.stats.RecordAttemptFailure(st.idx)
				rs.stats.RecordFailure(st.idx, 1)
				rs.emit(st, stats.RecordFailed, func(ev *stats.Event) { ev.Inputs = 1; ev.Attempt = 1; ev.Err = err })
				continue
			}
			rs.fatal(st.idx, errors.Wrapf(err, "scan of %s", st.op.GetLogicalOp().GetSourceID()))
			break
		}
		if done {
			break
		}
		elapsed := time.Since(start)
		rs.stats.RecordInvocation(st.idx, 1, 1, 0, elapsed)
		st.obs.add(1, 1, 0, elapsed)
		rs.emit(st, stats.RecordCompleted, func(ev *stats.Event) { ev.Inputs = 1; ev.Outputs = 1; ev.Elapsed = elapsed })
		if !st.send(r) {
			break
		}
	}
	st.obs.flush()
	rs.emit(st, stats.OperatorFinished, func(ev *stats.Event) {
		opStats := rs.stats.GetOperator(st.idx)
		ev.Cost = opStats.TotalCost
		ev.Elapsed = opStats.TotalTime
	})
}

func (e *ExecutionEngine) runStage(st *stage, rs *runState) {
	defer close(st.out)
	defer st.invokeCancel()
	rs.emit(st, stats.OperatorStarted, nil)

	batchSize := 1
	if st.op.GetStrategy() == plans.BatchedBondedConvert {
		batchSize = st.op.GetBatchSize()
	}
	g := new(errgroup.Group)
	g.SetLimit(rs.workersOf(st.op))
	for {
		batch := st.readBatch(batchSize)
		if batch == nil {
			break
		}
		g.Go(func() error {
			e.invoke(st, rs, batch)
			return nil
		})
	}
	close(st.stopped)
	g.Wait()

	if blocking, ok := st.exec.(BlockingExecutor); ok && st.ctx.Err() == nil {
		start := time.Now()
		res, err := blocking.Finish(st.invokeCtx)
		if err != nil {
			rs.fatal(st.idx, err)
		} else {
			for _, out := range res.Outputs {
				if !st.send(out) {
					break
				}
			}
			common.ShPrintf(common.DEBUG_INFO, "%s: finished in %s\n", st.op.GetName(), time.Since(start))
		}
	}
	st.obs.flush()
	rs.emit(st, stats.OperatorFinished, func(ev *stats.Event) {
		opStats := rs.stats.GetOperator(st.idx)
		ev.Cost = opStats.TotalCost
		ev.Elapsed = opStats.TotalTime
	})
}

// invoke runs one invocation with retries. the records of an exhausted
// invocation are dropped and counted.
func (e *ExecutionEngine) invoke(st *stage, rs *runState, batch []*record.Record) {
	for _, in := range batch {
		if err := in.ConformsTo(st.op.GetInputSchema()); err != nil {
			rs.fatal(st.idx, common.NewStageError(common.ErrExecutionAborted, st.idx, st.op.GetName(), "%v", err))
			return
		}
	}
	config := rs.config
	backoff := config.RetryBaseBackoff
	for attempt := 1; ; attempt++ {
		attemptCtx, cancel := context.WithTimeout(st.invokeCtx, config.InvocationTimeout)
		start := time.Now()
		res, err := st.exec.Invoke(attemptCtx, batch)
		measured := time.Since(start)
		cancel()

		if err == nil {
			elapsed := res.Latency
			if elapsed <= 0 {
				elapsed = measured
			}
			rs.stats.RecordInvocation(st.idx, int64(len(batch)), int64(len(res.Outputs)), res.Cost, elapsed)
			st.obs.add(len(batch), len(res.Outputs), res.Cost, elapsed)
			rs.emit(st, stats.RecordCompleted, func(ev *stats.Event) {
				ev.Inputs = len(batch)
				ev.Outputs = len(res.Outputs)
				ev.Cost = res.Cost
				ev.Elapsed = elapsed
				ev.Attempt = attempt
			})
			for _, out := range res.Outputs {
				if !st.send(out) {
					break
				}
			}
			if lim, ok := st.exec.(*LimitExecutor); ok && lim.Reached() && st.idx > 0 {
				rs.stages[st.idx-1].cancel(errLimitReached)
			}
			return
		}
		if st.invokeCtx.Err() != nil {
			// abandoned by cancellation, not charged
			common.ShPrintf(common.DEBUG_INFO, "%s: invocation abandoned: %v\n", st.op.GetName(), err)
			return
		}
		if isFatal(err) {
			rs.fatal(st.idx, err)
			return
		}
		rs.stats.RecordAttemptFailure(st.idx)
		rs.emit(st, stats.RecordFailed, func(ev *stats.Event) {
			ev.Inputs = len(batch)
			ev.Attempt = attempt
			ev.Err = err
		})
		if attempt > config.MaxRetries {
			rs.stats.RecordFailure(st.idx, int64(len(batch)))
			common.ShPrintf(common.WARN, "%s: dropped %d records after %d attempts: %v\n", st.op.GetName(), len(batch), attempt, err)
			return
		}
		common.ShPrintf(common.DEBUG_INFO, "%s: attempt %d failed, retry after %s: %v\n", st.op.GetName(), attempt, backoff, err)
		timer := time.NewTimer(backoff)
		select {
		case <-st.invokeCtx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		backoff *= 2
		if backoff > config.RetryMaxBackoff {
			backoff = config.RetryMaxBackoff
		}
	}
}
