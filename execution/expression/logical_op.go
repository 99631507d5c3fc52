package expression

import (
	"fmt"

	"github.com/ryogrid/SemOptDB/storage/record"
	"github.com/ryogrid/SemOptDB/types"
)

type LogicalOpType int

/** LogicalOpType represents the type of comparison that we want to perform. */
const (
	AND LogicalOpType = iota
	OR
	NOT
)

/**
 * LogicalOp represents two expressions or one expression being evaluated with logical operator.
 */
type LogicalOp struct {
	*AbstractExpression
	logicalOpType LogicalOpType
}

// if logicalOpType is "NOT", right value must be nil
func NewLogicalOp(left Expression, right Expression, logicalOpType LogicalOpType) Expression {
	return &LogicalOp{&AbstractExpression{[2]Expression{left, right}, types.Boolean}, logicalOpType}
}

func (c *LogicalOp) Evaluate(r *record.Record) types.Value {
	if c.logicalOpType == NOT {
		lhs := c.children[0].Evaluate(r)
		return types.NewBoolean(!isTrue(lhs))
	}
	lhs := c.children[0].Evaluate(r)
	// short circuit
	if c.logicalOpType == AND && !isTrue(lhs) {
		return types.NewBoolean(false)
	}
	if c.logicalOpType == OR && isTrue(lhs) {
		return types.NewBoolean(true)
	}
	rhs := c.children[1].Evaluate(r)
	return types.NewBoolean(c.performLogicalOp(lhs, rhs))
}

func (c *LogicalOp) performLogicalOp(lhs types.Value, rhs types.Value) bool {
	switch c.logicalOpType {
	case AND:
		return isTrue(lhs) && isTrue(rhs)
	case OR:
		return isTrue(lhs) || isTrue(rhs)
	default:
		fmt.Println(c.logicalOpType)
		panic("unknown logicalOpType is passed!")
	}
}

func (c *LogicalOp) GetLogicalOpType() LogicalOpType {
	return c.logicalOpType
}

// isTrue treats NULL as false and non zero numbers as true
func isTrue(v types.Value) bool {
	if v.IsNull() {
		return false
	}
	switch v.ValueType() {
	case types.Boolean:
		return v.ToBoolean()
	case types.Integer, types.Float:
		f, _ := v.ToNumeric()
		return f != 0
	}
	return false
}
