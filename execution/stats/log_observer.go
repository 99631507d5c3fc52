package stats

import (
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// LogObserver writes events as logfmt lines
type LogObserver struct {
	logger log.Logger
}

func NewLogObserver(logger log.Logger) *LogObserver {
	return &LogObserver{log.With(logger, "component", "engine")}
}

func (lo *LogObserver) OnEvent(ev Event) {
	kv := []interface{}{"msg", ev.Type.String(), "seq", ev.Seq, "stage", ev.Stage, "op", ev.OpID, "impl", ev.ImplTag}
	switch ev.Type {
	case OperatorStarted:
		level.Info(lo.logger).Log(kv...)
	case RecordCompleted:
		kv = append(kv, "inputs", ev.Inputs, "outputs", ev.Outputs, "cost", ev.Cost, "elapsed", ev.Elapsed)
		level.Debug(lo.logger).Log(kv...)
	case RecordFailed:
		kv = append(kv, "inputs", ev.Inputs, "attempt", ev.Attempt, "err", ev.Err)
		level.Warn(lo.logger).Log(kv...)
	case OperatorFinished:
		kv = append(kv, "cost", ev.Cost, "elapsed", ev.Elapsed)
		level.Info(lo.logger).Log(kv...)
	case ExecutionFinished:
		kv = append(kv, "cost", ev.Cost, "elapsed", ev.Elapsed)
		if ev.Err != nil {
			kv = append(kv, "err", ev.Err)
			level.Error(lo.logger).Log(kv...)
			return
		}
		level.Info(lo.logger).Log(kv...)
	}
}
