// this code is from https://github.com/brunocalza/go-bustub
// there is license and copyright notice in licenses/go-bustub dir

package expression

import (
	"github.com/ryogrid/SemOptDB/storage/record"
	"github.com/ryogrid/SemOptDB/types"
)

/**
 * ColumnValue refers an attribute of the evaluated record by name.
 */
type ColumnValue struct {
	*AbstractExpression
	colName string
}

func NewColumnValue(colName string, colType types.TypeID) Expression {
	return &ColumnValue{&AbstractExpression{[2]Expression{}, colType}, colName}
}

// Evaluate returns NULL when the record has no such attribute
func (c *ColumnValue) Evaluate(r *record.Record) types.Value {
	val, ok := r.GetValue(c.colName)
	if !ok {
		return types.NewNull(c.ret_type)
	}
	return val
}

func (c *ColumnValue) GetColName() string {
	return c.colName
}
