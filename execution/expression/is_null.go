package expression

import (
	"github.com/ryogrid/SemOptDB/storage/record"
	"github.com/ryogrid/SemOptDB/types"
)

// IsNull evaluates "expr IS [NOT] NULL"
type IsNull struct {
	*AbstractExpression
	not bool
}

func NewIsNull(child Expression, not bool) Expression {
	return &IsNull{&AbstractExpression{[2]Expression{child, nil}, types.Boolean}, not}
}

func (e *IsNull) Evaluate(r *record.Record) types.Value {
	isNull := e.children[0].Evaluate(r).IsNull()
	return types.NewBoolean(isNull != e.not)
}
