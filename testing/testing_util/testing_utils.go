package testing_util

import (
	"fmt"
	"time"

	"github.com/ryogrid/SemOptDB/common"
	"github.com/ryogrid/SemOptDB/storage/source"
	"github.com/ryogrid/SemOptDB/storage/table/column"
	"github.com/ryogrid/SemOptDB/storage/table/schema"
	"github.com/ryogrid/SemOptDB/types"
)

func GetValue(data interface{}) (value types.Value) {
	switch v := data.(type) {
	case int:
		value = types.NewInteger(int64(v))
	case int64:
		value = types.NewInteger(v)
	case float64:
		value = types.NewFloat(v)
	case string:
		value = types.NewVarchar(v)
	case bool:
		value = types.NewBoolean(v)
	case []byte:
		value = types.NewBytes(v)
	case *types.Value:
		return *v
	}
	return
}

// MakeRow converts go values to a row, keys are column names
func MakeRow(kv map[string]interface{}) map[string]types.Value {
	ret := make(map[string]types.Value, len(kv))
	for k, v := range kv {
		ret[k] = GetValue(v)
	}
	return ret
}

// PaperSchema is the schema of sources made by NewPaperSource
func PaperSchema() *schema.Schema {
	return schema.NewSchemaWithDesc("Paper", "a research paper", []*column.Column{
		column.NewColumn("filename", types.Varchar, "name of the file", true),
		column.NewColumn("contents", types.Varchar, "text of the paper", true),
	})
}

// NewPaperSource makes n papers. contents carry "title", "author" and
// "year" lines, every third paper is about databases.
func NewPaperSource(sourceID string, n int) *source.MemorySource {
	rows := make([]map[string]types.Value, 0, n)
	for i := 0; i < n; i++ {
		topic := "vision"
		if i%3 == 0 {
			topic = "databases"
		}
		rows = append(rows, MakeRow(map[string]interface{}{
			"filename": fmt.Sprintf("paper%03d.txt", i),
			"contents": fmt.Sprintf("title: paper %d on %s\nauthor: author%d\nyear: %d\n", i, topic, i%4, 2000+i),
		}))
	}
	return source.NewMemorySource(sourceID, PaperSchema(), rows)
}

// ExtractedPaperSchema adds generated attributes to PaperSchema
func ExtractedPaperSchema() *schema.Schema {
	return schema.NewSchema("ExtractedPaper", []*column.Column{
		column.NewColumn("filename", types.Varchar, "name of the file", true),
		column.NewColumn("contents", types.Varchar, "text of the paper", true),
		column.NewColumn("title", types.Varchar, "title of the paper", true),
		column.NewColumn("year", types.Integer, "publication year", true),
	})
}

// NewTestConfig returns a config with short backoff and silent logging
func NewTestConfig() *common.Config {
	cfg := common.NewDefaultConfig()
	cfg.RetryBaseBackoff = time.Millisecond
	cfg.RetryMaxBackoff = 4 * time.Millisecond
	cfg.InvocationTimeout = 5 * time.Second
	cfg.CancellationGrace = 0
	cfg.StatsFlushInterval = 0
	cfg.EnableOnMemStats = true
	cfg.LogLevel = "ERROR|FATAL"
	return cfg
}
