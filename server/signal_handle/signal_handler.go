package signal_handle

import (
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/ryogrid/SemOptDB/semopt"
)

var isStopped atomic.Bool

func IsStopped() bool {
	return isStopped.Load()
}

func SignalHandlerTh(db *semopt.SemOptDB, reqManager *semopt.RequestManager, exitNotifyCh chan<- bool) {
	sigChan := make(chan os.Signal, 1)
	// receive SIGINT only
	signal.Ignore()
	signal.Notify(sigChan, syscall.SIGINT)

	// block until receive SIGINT
	<-sigChan

	// ---- after receive SIGINT ---

	// stop handle request
	isStopped.Store(true)

	// in-flight runs are cancelled and report partial results
	db.Shutdown()
	reqManager.StopTh()

	// notify that shutdown operation finished to main thread
	exitNotifyCh <- true
}
