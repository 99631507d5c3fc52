package testing_util

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/ryogrid/SemOptDB/inference"
)

// ScriptedClient wraps a client and injects failures or blocking calls
type ScriptedClient struct {
	inner inference.Client
	mutex sync.Mutex
	// remaining failures keyed by the source index of the first input
	failures map[int64]int
	block    func(req *inference.Request) bool
	calls    int
	failed   int
}

// NewScriptedClient answers with inner. a nil inner becomes a
// SimulatedClient with the default model cards.
func NewScriptedClient(inner inference.Client) *ScriptedClient {
	if inner == nil {
		inner = inference.NewSimulatedClient(nil)
	}
	return &ScriptedClient{inner: inner, failures: make(map[int64]int)}
}

// FailTimes makes the next n calls on the record at sourceIndex fail
func (sc *ScriptedClient) FailTimes(sourceIndex int64, n int) {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()
	sc.failures[sourceIndex] += n
}

// BlockWhen makes matching calls wait until their context is done
func (sc *ScriptedClient) BlockWhen(fn func(req *inference.Request) bool) {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()
	sc.block = fn
}

func (sc *ScriptedClient) Calls() int {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()
	return sc.calls
}

func (sc *ScriptedClient) FailedCalls() int {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()
	return sc.failed
}

func (sc *ScriptedClient) Invoke(ctx context.Context, req *inference.Request) (*inference.Response, error) {
	sc.mutex.Lock()
	sc.calls++
	block := sc.block
	if len(req.Inputs) > 0 {
		idx := req.Inputs[0].GetSourceIndex()
		if sc.failures[idx] > 0 {
			sc.failures[idx]--
			sc.failed++
			sc.mutex.Unlock()
			return nil, errors.Newf("scripted failure on record %d", idx)
		}
	}
	sc.mutex.Unlock()

	if block != nil && block(req) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return sc.inner.Invoke(ctx, req)
}
