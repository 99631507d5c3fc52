package expression

import (
	"fmt"
	"strings"

	"github.com/ryogrid/SemOptDB/types"
)

// PrintExpTree returns the expression in infix notation
func PrintExpTree(exp Expression) string {
	switch e := exp.(type) {
	case *Comparison:
		return fmt.Sprintf("(%s %s %s)", PrintExpTree(e.children[0]), e.comparisonType, PrintExpTree(e.children[1]))
	case *LogicalOp:
		switch e.logicalOpType {
		case NOT:
			return fmt.Sprintf("NOT %s", PrintExpTree(e.children[0]))
		case AND:
			return fmt.Sprintf("(%s AND %s)", PrintExpTree(e.children[0]), PrintExpTree(e.children[1]))
		default:
			return fmt.Sprintf("(%s OR %s)", PrintExpTree(e.children[0]), PrintExpTree(e.children[1]))
		}
	case *IsNull:
		if e.not {
			return fmt.Sprintf("(%s IS NOT NULL)", PrintExpTree(e.children[0]))
		}
		return fmt.Sprintf("(%s IS NULL)", PrintExpTree(e.children[0]))
	case *Like:
		if e.not {
			return fmt.Sprintf("(%s NOT LIKE '%s')", PrintExpTree(e.children[0]), e.pattern)
		}
		return fmt.Sprintf("(%s LIKE '%s')", PrintExpTree(e.children[0]), e.pattern)
	case *ColumnValue:
		return e.colName
	case *ConstantValue:
		if e.value.ValueType() == types.Varchar {
			return "'" + strings.ReplaceAll(e.value.ToString(), "'", "''") + "'"
		}
		return e.value.ToString()
	default:
		panic("illegal type expression object is passed!")
	}
}
