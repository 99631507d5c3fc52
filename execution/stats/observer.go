package stats

import (
	"sync"
	"time"
)

type EventType int

const (
	OperatorStarted EventType = iota
	RecordCompleted
	RecordFailed
	OperatorFinished
	ExecutionFinished
)

func (t EventType) String() string {
	switch t {
	case OperatorStarted:
		return "operator-started"
	case RecordCompleted:
		return "record-completed"
	case RecordFailed:
		return "record-failed"
	case OperatorFinished:
		return "operator-finished"
	case ExecutionFinished:
		return "execution-finished"
	}
	return "unknown"
}

type Event struct {
	// assigned by the dispatcher, strictly increasing
	Seq     uint64
	Type    EventType
	At      time.Time
	Stage   int
	OpID    string
	Kind    string
	ImplTag string
	// inputs and outputs of a completed invocation
	Inputs  int
	Outputs int
	Cost    float64
	Elapsed time.Duration
	Attempt int
	Err     error
}

// Observer receives events one at a time in Seq order
type Observer interface {
	OnEvent(ev Event)
}

type FuncObserver func(ev Event)

func (f FuncObserver) OnEvent(ev Event) {
	f(ev)
}

// MultiObserver fans out to every observer in order
type MultiObserver []Observer

func (m MultiObserver) OnEvent(ev Event) {
	for _, o := range m {
		o.OnEvent(ev)
	}
}

const dispatcherQueueSize = 256

// Dispatcher delivers events to an observer on its own goroutine so slow
// observers do not hold the stage goroutines. a nil observer makes Emit a no-op.
type Dispatcher struct {
	observer Observer
	mutex    sync.Mutex
	seq      uint64
	queue    chan Event
	done     chan struct{}
	closed   bool
}

func NewDispatcher(observer Observer) *Dispatcher {
	d := &Dispatcher{observer: observer}
	if observer == nil {
		return d
	}
	d.queue = make(chan Event, dispatcherQueueSize)
	d.done = make(chan struct{})
	go func() {
		defer close(d.done)
		for ev := range d.queue {
			d.observer.OnEvent(ev)
		}
	}()
	return d
}

func (d *Dispatcher) Emit(ev Event) {
	if d.observer == nil {
		return
	}
	// sequence assignment and enqueue happen together so delivery follows Seq
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if d.closed {
		return
	}
	d.seq++
	ev.Seq = d.seq
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	d.queue <- ev
}

// Close waits until every emitted event is delivered
func (d *Dispatcher) Close() {
	if d.observer == nil {
		return
	}
	d.mutex.Lock()
	if d.closed {
		d.mutex.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mutex.Unlock()
	<-d.done
}
