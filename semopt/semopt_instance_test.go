package semopt

import (
	"path/filepath"
	"testing"

	"github.com/ryogrid/SemOptDB/catalog"
	"github.com/ryogrid/SemOptDB/semopt/semopt_util"
	testingpkg "github.com/ryogrid/SemOptDB/testing/testing_assert"
	"github.com/ryogrid/SemOptDB/testing/testing_util"
)

func TestInstanceForTestingIsOnMemory(t *testing.T) {
	si := NewSemOptInstanceForTesting()
	testingpkg.Assert(t, si.GetConfig().EnableOnMemStats, "stats are kept on memory")
	testingpkg.Ok(t, si.GetStatisticsStore().Append(catalog.Observation{Kind: "Convert", ImplTag: "x", Invocations: 1, InputCount: 1}))
	testingpkg.Ok(t, si.Shutdown(true))
	testingpkg.AssertFalse(t, si.GetStatisticsUpdater().IsUpdaterActive(), "updater is stopped")
}

func TestInstanceStatisticsSurviveRestart(t *testing.T) {
	cfg := testing_util.NewTestConfig()
	cfg.EnableOnMemStats = false
	cfg.StatsFilePath = filepath.Join(t.TempDir(), "stats.log")

	si, err := NewSemOptInstance(cfg)
	testingpkg.Ok(t, err)
	testingpkg.Ok(t, si.GetStatisticsStore().Append(catalog.Observation{Kind: "Convert", ImplTag: "x", Invocations: 2, InputCount: 2, CostSum: 0.5}))
	testingpkg.Ok(t, si.Shutdown(false))
	testingpkg.Assert(t, semopt_util.FileExists(cfg.StatsFilePath), "statistics file is kept")

	si, err = NewSemOptInstance(cfg)
	testingpkg.Ok(t, err)
	obs, ok := si.GetStatisticsStore().Lookup("Convert", "x")
	testingpkg.Assert(t, ok, "statistics are replayed")
	testingpkg.Equals(t, int64(2), obs.InputCount)
	testingpkg.InDelta(t, 0.5, obs.CostSum, 1e-12)
	testingpkg.Ok(t, si.Shutdown(true))
	testingpkg.AssertFalse(t, semopt_util.FileExists(cfg.StatsFilePath), "statistics file is removed")
}
