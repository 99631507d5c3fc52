package executors

import (
	"github.com/ryogrid/SemOptDB/catalog"
	"github.com/ryogrid/SemOptDB/common"
	"github.com/ryogrid/SemOptDB/inference"
)

// ExecutorContext stores all the context necessary to run an executor
type ExecutorContext struct {
	catalog  *catalog.Catalog
	client   inference.Client
	config   *common.Config
	store    *catalog.StatisticsStore
	programs *ProgramCache
}

// NewExecutorContext creates a context. store and programs may be nil, in
// which case nothing outlives the execution.
func NewExecutorContext(catalog *catalog.Catalog, client inference.Client, config *common.Config, store *catalog.StatisticsStore, programs *ProgramCache) *ExecutorContext {
	if config == nil {
		config = common.NewDefaultConfig()
	}
	return &ExecutorContext{catalog, client, config, store, programs}
}

func (e *ExecutorContext) GetCatalog() *catalog.Catalog {
	return e.catalog
}

func (e *ExecutorContext) GetClient() inference.Client {
	return e.client
}

func (e *ExecutorContext) GetConfig() *common.Config {
	return e.config
}

func (e *ExecutorContext) GetStatisticsStore() *catalog.StatisticsStore {
	return e.store
}

func (e *ExecutorContext) GetProgramCache() *ProgramCache {
	return e.programs
}

// WithoutSharedState returns a copy which neither appends statistics nor
// reuses synthesized programs
func (e *ExecutorContext) WithoutSharedState() *ExecutorContext {
	return &ExecutorContext{e.catalog, e.client, e.config, nil, nil}
}
