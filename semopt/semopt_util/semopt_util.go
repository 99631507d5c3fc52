package semopt_util

import (
	"os"

	"github.com/ryogrid/SemOptDB/storage/record"
	"github.com/ryogrid/SemOptDB/storage/table/schema"
	"github.com/ryogrid/SemOptDB/types"
)

func FileExists(filename string) bool {
	_, err := os.Stat(filename)
	return err == nil
}

// ConvRecordListToRows lays records out in the column order of schema_.
// NULL and missing attributes become nil.
func ConvRecordListToRows(schema_ *schema.Schema, result []*record.Record) [][]interface{} {
	rows := make([][]interface{}, 0, len(result))
	for _, r := range result {
		row := make([]interface{}, 0, schema_.GetColumnCount())
		for _, name := range schema_.ColumnNames() {
			val, ok := r.GetValue(name)
			if !ok {
				val = types.NewNull(types.Varchar)
			}
			row = append(row, val.ToInterface())
		}
		rows = append(rows, row)
	}
	return rows
}
