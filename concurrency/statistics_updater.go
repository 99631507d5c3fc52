package concurrency

import (
	"sync"
	"time"

	"github.com/ryogrid/SemOptDB/catalog"
	"github.com/ryogrid/SemOptDB/common"
)

// StatisticsUpdater flushes the statistics store periodically
type StatisticsUpdater struct {
	store    *catalog.StatisticsStore
	interval time.Duration
	// updater thread works when this flag is true
	isUpdaterActive bool
	mutex           *sync.Mutex
	stopCh          chan struct{}
	doneCh          chan struct{}
}

func NewStatisticsUpdater(store *catalog.StatisticsStore, interval time.Duration) *StatisticsUpdater {
	return &StatisticsUpdater{store, interval, false, new(sync.Mutex), make(chan struct{}), make(chan struct{})}
}

func (updater *StatisticsUpdater) StartStatisticsUpdaterTh() {
	updater.mutex.Lock()
	defer updater.mutex.Unlock()
	if updater.isUpdaterActive || updater.interval <= 0 {
		return
	}
	updater.isUpdaterActive = true

	go func() {
		defer close(updater.doneCh)
		ticker := time.NewTicker(updater.interval)
		defer ticker.Stop()
		for {
			select {
			case <-updater.stopCh:
				return
			case <-ticker.C:
				common.ShPrintf(common.DEBUG_INFO, "StatisticsUpdaterTh: start flushing.\n")
				if err := updater.store.Flush(); err != nil {
					common.ShPrintf(common.ERROR, "StatisticsUpdaterTh: flush failed: %v\n", err)
				}
			}
		}
	}()
}

// StopStatisticsUpdaterTh stops the thread and waits for its exit
func (updater *StatisticsUpdater) StopStatisticsUpdaterTh() {
	updater.mutex.Lock()
	defer updater.mutex.Unlock()
	if !updater.isUpdaterActive {
		return
	}
	updater.isUpdaterActive = false
	close(updater.stopCh)
	<-updater.doneCh
}

func (updater *StatisticsUpdater) IsUpdaterActive() bool {
	updater.mutex.Lock()
	defer updater.mutex.Unlock()
	return updater.isUpdaterActive
}
