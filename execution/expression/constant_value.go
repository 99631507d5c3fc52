// this code is from https://github.com/brunocalza/go-bustub
// there is license and copyright notice in licenses/go-bustub dir

package expression

import (
	"github.com/ryogrid/SemOptDB/storage/record"
	"github.com/ryogrid/SemOptDB/types"
)

/**
 * ConstantValue represents constants.
 */
type ConstantValue struct {
	*AbstractExpression
	value types.Value
}

func NewConstantValue(value types.Value) Expression {
	return &ConstantValue{&AbstractExpression{[2]Expression{}, value.ValueType()}, value}
}

func (c *ConstantValue) Evaluate(r *record.Record) types.Value {
	return c.value
}

func (c *ConstantValue) GetValue() *types.Value {
	return &c.value
}
