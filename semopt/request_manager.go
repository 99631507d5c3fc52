package semopt

import (
	"context"
	"sync"

	"github.com/ryogrid/SemOptDB/common"
	"github.com/ryogrid/SemOptDB/planner"
	"github.com/ryogrid/SemOptDB/planner/optimizer"
)

type runRequest struct {
	reqId    uint64
	ctx      context.Context
	spec     *planner.PlanSpec
	policy   optimizer.Policy
	callerCh chan *reqResult
}

type reqResult struct {
	reqId    uint64
	result   *RunResult
	err      error
	callerCh chan *reqResult
}

func (r *reqResult) GetResult() *RunResult {
	return r.result
}

func (r *reqResult) GetError() error {
	return r.err
}

// RequestManager queues runs and executes at most MaxConcurrentRunNum of
// them at the same time
type RequestManager struct {
	sdb               *SemOptDB
	nextReqId         uint64
	execQue           []*runRequest
	queMutex          *sync.Mutex
	curExectingReqNum uint64
	maxExectingReqNum uint64
	inCh              chan *reqResult
	isExecutionActive bool
	doneCh            chan struct{}
}

func NewRequestManager(sdb *SemOptDB) *RequestManager {
	return &RequestManager{
		sdb:               sdb,
		execQue:           make([]*runRequest, 0),
		queMutex:          new(sync.Mutex),
		maxExectingReqNum: common.MaxConcurrentRunNum,
		inCh:              make(chan *reqResult, 100),
		isExecutionActive: true,
		doneCh:            make(chan struct{}),
	}
}

// AppendRequest queues a run of spec. the result is sent once to the
// returned channel.
func (reqManager *RequestManager) AppendRequest(ctx context.Context, spec *planner.PlanSpec, policy optimizer.Policy) <-chan *reqResult {
	reqManager.queMutex.Lock()
	retCh := make(chan *reqResult, 1)
	if !reqManager.isExecutionActive {
		reqManager.queMutex.Unlock()
		retCh <- &reqResult{err: ErrShutdown}
		return retCh
	}
	qr := &runRequest{reqManager.nextReqId, ctx, spec, policy, retCh}
	reqManager.nextReqId++
	reqManager.execQue = append(reqManager.execQue, qr)
	reqManager.queMutex.Unlock()

	// wake up execution thread
	reqManager.inCh <- nil

	return retCh
}

// caller must having lock of queMutex
func (reqManager *RequestManager) retrieveRequest() *runRequest {
	retVal := reqManager.execQue[0]
	reqManager.execQue = reqManager.execQue[1:]
	return retVal
}

func (reqManager *RequestManager) StartTh() {
	go reqManager.Run()
}

// StopTh fails queued requests with ErrShutdown and waits until running
// ones have reported
func (reqManager *RequestManager) StopTh() {
	reqManager.queMutex.Lock()
	if !reqManager.isExecutionActive {
		reqManager.queMutex.Unlock()
		return
	}
	reqManager.isExecutionActive = false
	reqManager.queMutex.Unlock()
	reqManager.inCh <- nil
	<-reqManager.doneCh
}

// caller must having lock of queMutex
func (reqManager *RequestManager) executeQuedRuns() {
	qr := reqManager.retrieveRequest()
	reqManager.curExectingReqNum++
	go func() {
		res, err := reqManager.sdb.RunSpec(qr.ctx, qr.spec, qr.policy)
		reqManager.inCh <- &reqResult{qr.reqId, res, err, qr.callerCh}
	}()
}

func (reqManager *RequestManager) Run() {
	defer close(reqManager.doneCh)
	for {
		recvVal := <-reqManager.inCh
		reqManager.queMutex.Lock()
		if recvVal != nil { // receive result
			reqManager.curExectingReqNum--
			recvVal.callerCh <- recvVal
		}

		if !reqManager.isExecutionActive {
			for _, qr := range reqManager.execQue {
				qr.callerCh <- &reqResult{reqId: qr.reqId, err: ErrShutdown}
			}
			reqManager.execQue = reqManager.execQue[:0]
			if reqManager.curExectingReqNum == 0 {
				reqManager.queMutex.Unlock()
				return
			}
			reqManager.queMutex.Unlock()
			continue
		}
		for len(reqManager.execQue) > 0 && reqManager.curExectingReqNum < reqManager.maxExectingReqNum {
			reqManager.executeQuedRuns()
		}
		reqManager.queMutex.Unlock()
	}
}
