package semopt

import (
	"os"

	"github.com/ryogrid/SemOptDB/catalog"
	"github.com/ryogrid/SemOptDB/common"
	"github.com/ryogrid/SemOptDB/concurrency"
	"github.com/ryogrid/SemOptDB/execution/executors"
	"github.com/ryogrid/SemOptDB/inference"
	"github.com/ryogrid/SemOptDB/semopt/semopt_util"
)

// SemOptInstance owns the process wide state which outlives single runs
type SemOptInstance struct {
	config   *common.Config
	registry *inference.ModelRegistry
	store    *catalog.StatisticsStore
	updater  *concurrency.StatisticsUpdater
	programs *executors.ProgramCache
}

func NewSemOptInstanceForTesting() *SemOptInstance {
	config := common.NewDefaultConfig()
	config.EnableOnMemStats = true
	ret, err := NewSemOptInstance(config)
	common.SH_Assert(err == nil, "on memory instance must be created")
	return ret
}

// NewSemOptInstance opens the statistics store. the updater thread flushes
// it every StatsFlushInterval.
func NewSemOptInstance(config *common.Config) (*SemOptInstance, error) {
	var store *catalog.StatisticsStore
	if config.EnableOnMemStats {
		store = catalog.NewOnMemStatisticsStore()
	} else {
		if semopt_util.FileExists(config.StatsFilePath) {
			common.ShPrintf(common.INFO, "statistics are replayed from %s\n", config.StatsFilePath)
		}
		var err error
		store, err = catalog.OpenStatisticsStore(config.StatsFilePath)
		if err != nil {
			return nil, err
		}
	}
	updater := concurrency.NewStatisticsUpdater(store, config.StatsFlushInterval)
	updater.StartStatisticsUpdaterTh()
	return &SemOptInstance{config, inference.NewDefaultModelRegistry(), store, updater, executors.NewProgramCache()}, nil
}

func (si *SemOptInstance) GetConfig() *common.Config {
	return si.config
}

func (si *SemOptInstance) GetModelRegistry() *inference.ModelRegistry {
	return si.registry
}

func (si *SemOptInstance) GetStatisticsStore() *catalog.StatisticsStore {
	return si.store
}

func (si *SemOptInstance) GetStatisticsUpdater() *concurrency.StatisticsUpdater {
	return si.updater
}

func (si *SemOptInstance) GetProgramCache() *executors.ProgramCache {
	return si.programs
}

// Shutdown stops the updater and closes the store
func (si *SemOptInstance) Shutdown(IsRemoveFiles bool) error {
	si.updater.StopStatisticsUpdaterTh()
	err := si.store.Close()
	if IsRemoveFiles && !si.config.EnableOnMemStats {
		os.Remove(si.config.StatsFilePath)
	}
	return err
}
