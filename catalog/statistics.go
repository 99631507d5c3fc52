package catalog

import (
	"io"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/dsnet/golib/memfile"
	pair "github.com/notEpsilon/go-pair"
	"github.com/ryogrid/SemOptDB/common"
	"github.com/ugorji/go/codec"
)

// StatKey is (operator kind, implementation tag)
type StatKey = pair.Pair[string, string]

func NewStatKey(kind string, implTag string) StatKey {
	return StatKey{First: kind, Second: implTag}
}

// Observation is an aggregate of executions of one implementation.
// the same type is used for deltas which are appended to the store.
type Observation struct {
	Kind         string  `codec:"kind"`
	ImplTag      string  `codec:"impl"`
	Invocations  int64   `codec:"inv"`
	InputCount   int64   `codec:"in"`
	OutputCount  int64   `codec:"out"`
	CostSum      float64 `codec:"cost"`
	TimeSum      float64 `codec:"time"` // seconds
	QualityCount int64   `codec:"qcnt"`
	QualitySum   float64 `codec:"qsum"`
}

func (o Observation) Key() StatKey {
	return NewStatKey(o.Kind, o.ImplTag)
}

func (o Observation) merge(delta Observation) Observation {
	o.Invocations += delta.Invocations
	o.InputCount += delta.InputCount
	o.OutputCount += delta.OutputCount
	o.CostSum += delta.CostSum
	o.TimeSum += delta.TimeSum
	o.QualityCount += delta.QualityCount
	o.QualitySum += delta.QualitySum
	return o
}

func (o Observation) IsEmpty() bool {
	return o.InputCount == 0 && o.QualityCount == 0
}

// StatsSnapshot is never modified after it is published
type StatsSnapshot struct {
	entries map[StatKey]Observation
}

func (s *StatsSnapshot) Lookup(kind string, implTag string) (Observation, bool) {
	o, ok := s.entries[NewStatKey(kind, implTag)]
	return o, ok
}

func (s *StatsSnapshot) Len() int {
	return len(s.entries)
}

// StatisticsStore keeps historical execution statistics keyed by
// (operator kind, implementation tag). it is append-only: every Append
// publishes a new snapshot and readers keep the one they got.
type StatisticsStore struct {
	latch    common.ReaderWriterLatch
	snapshot *StatsSnapshot
	pending  []Observation
	file     io.ReadWriteSeeker
	handle   *codec.MsgpackHandle
	closed   bool
}

// OpenStatisticsStore opens (or creates) an append log on disk and replays it
func OpenStatisticsStore(path string) (*StatisticsStore, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "opening statistics store %s", path)
	}
	store, err := NewStatisticsStoreWithFile(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return store, nil
}

// NewOnMemStatisticsStore keeps the append log in memory
func NewOnMemStatisticsStore() *StatisticsStore {
	store, err := NewStatisticsStoreWithFile(memfile.New(make([]byte, 0)))
	common.SH_Assert(err == nil, "replaying empty memfile must not fail")
	return store
}

// NewStatisticsStoreWithFile replays observations already in file and appends to its end
func NewStatisticsStoreWithFile(file io.ReadWriteSeeker) (*StatisticsStore, error) {
	store := &StatisticsStore{
		latch:    common.NewRWLatch(),
		snapshot: &StatsSnapshot{make(map[StatKey]Observation)},
		pending:  make([]Observation, 0),
		file:     file,
		handle:   new(codec.MsgpackHandle),
	}
	if err := store.replay(); err != nil {
		return nil, err
	}
	return store, nil
}

func (store *StatisticsStore) replay() error {
	if _, err := store.file.Seek(0, io.SeekStart); err != nil {
		return errors.Wrap(err, "seeking statistics log")
	}
	entries := store.snapshot.entries
	dec := codec.NewDecoder(store.file, store.handle)
	replayed := 0
	for {
		var o Observation
		err := dec.Decode(&o)
		if err == io.EOF || errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// a torn tail is dropped. entries before it are kept.
			common.ShPrintf(common.WARN, "statistics log is truncated after %d entries: %v\n", replayed, err)
			break
		}
		entries[o.Key()] = entries[o.Key()].merge(o)
		replayed++
	}
	for k, o := range entries {
		o.Kind, o.ImplTag = k.First, k.Second
		entries[k] = o
	}
	if _, err := store.file.Seek(0, io.SeekEnd); err != nil {
		return errors.Wrap(err, "seeking statistics log")
	}
	common.ShPrintf(common.DEBUG_INFO, "statistics store replayed %d entries\n", replayed)
	return nil
}

// Append merges delta into the aggregate of its key
func (store *StatisticsStore) Append(delta Observation) error {
	if delta.IsEmpty() && delta.Invocations == 0 {
		return nil
	}
	store.latch.WLock()
	defer store.latch.WUnlock()

	if store.closed {
		return errors.New("statistics store is closed")
	}
	next := make(map[StatKey]Observation, len(store.snapshot.entries)+1)
	for k, v := range store.snapshot.entries {
		next[k] = v
	}
	merged := next[delta.Key()].merge(delta)
	merged.Kind, merged.ImplTag = delta.Kind, delta.ImplTag
	next[delta.Key()] = merged
	store.snapshot = &StatsSnapshot{next}
	store.pending = append(store.pending, delta)
	return nil
}

func (store *StatisticsStore) Snapshot() *StatsSnapshot {
	store.latch.RLock()
	defer store.latch.RUnlock()
	return store.snapshot
}

func (store *StatisticsStore) Lookup(kind string, implTag string) (Observation, bool) {
	return store.Snapshot().Lookup(kind, implTag)
}

// Flush writes pending deltas to the log. it does nothing after Close.
func (store *StatisticsStore) Flush() error {
	store.latch.WLock()
	defer store.latch.WUnlock()
	if store.closed {
		return nil
	}
	return store.flushInner()
}

// caller must having write lock
func (store *StatisticsStore) flushInner() error {
	if len(store.pending) == 0 {
		return nil
	}
	enc := codec.NewEncoder(store.file, store.handle)
	for i, o := range store.pending {
		if err := enc.Encode(o); err != nil {
			store.pending = store.pending[i:]
			return errors.Wrap(err, "writing statistics log")
		}
	}
	store.pending = store.pending[:0]
	if f, ok := store.file.(*os.File); ok {
		if err := f.Sync(); err != nil {
			return errors.Wrap(err, "syncing statistics log")
		}
	}
	return nil
}

func (store *StatisticsStore) Close() error {
	store.latch.WLock()
	defer store.latch.WUnlock()

	if store.closed {
		return nil
	}
	err := store.flushInner()
	store.closed = true
	if closer, ok := store.file.(io.Closer); ok {
		if cerr := closer.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
