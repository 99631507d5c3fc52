package parser

import (
	"github.com/cockroachdb/errors"
	"github.com/pingcap/parser/ast"
	"github.com/pingcap/parser/opcode"
	driver "github.com/pingcap/tidb/types/parser_driver"
	"github.com/ryogrid/SemOptDB/execution/expression"
	"github.com/ryogrid/SemOptDB/storage/table/schema"
	"github.com/ryogrid/SemOptDB/types"
)

// BinaryOpVisitor converts a predicate AST into an expression tree.
// each sub tree is converted by its own visitor.
type BinaryOpVisitor struct {
	schema_     *schema.Schema
	Expression_ expression.Expression
	err         error
}

func NewBinaryOpVisitor(schema_ *schema.Schema) *BinaryOpVisitor {
	return &BinaryOpVisitor{schema_, nil, nil}
}

func (v *BinaryOpVisitor) convertChild(node ast.Node) expression.Expression {
	if v.err != nil {
		return nil
	}
	child := NewBinaryOpVisitor(v.schema_)
	node.Accept(child)
	if child.err != nil {
		v.err = child.err
		return nil
	}
	if child.Expression_ == nil {
		v.err = errors.Newf("unsupported expression: %T", node)
	}
	return child.Expression_
}

func (v *BinaryOpVisitor) Enter(in ast.Node) (ast.Node, bool) {
	switch node := in.(type) {
	case *ast.BinaryOperationExpr:
		left := v.convertChild(node.L)
		right := v.convertChild(node.R)
		if v.err != nil {
			return in, true
		}
		logicType, compType, ok := GetTypesForBOperationExpr(node.Op)
		if !ok {
			v.err = errors.Newf("unsupported operator: %s", node.Op)
			return in, true
		}
		if logicType >= 0 {
			v.Expression_ = expression.NewLogicalOp(left, right, logicType)
		} else {
			left, right = v.alignBooleanOperands(left, right)
			v.Expression_ = expression.NewComparison(left, right, compType)
		}
		return in, true
	case *ast.ParenthesesExpr:
		v.Expression_ = v.convertChild(node.Expr)
		return in, true
	case *ast.UnaryOperationExpr:
		if node.Op != opcode.Not {
			v.err = errors.Newf("unsupported operator: %s", node.Op)
			return in, true
		}
		child := v.convertChild(node.V)
		if v.err == nil {
			v.Expression_ = expression.NewLogicalOp(child, nil, expression.NOT)
		}
		return in, true
	case *ast.IsNullExpr:
		child := v.convertChild(node.Expr)
		if v.err == nil {
			v.Expression_ = expression.NewIsNull(child, node.Not)
		}
		return in, true
	case *ast.PatternLikeExpr:
		child := v.convertChild(node.Expr)
		patternExpr, ok := node.Pattern.(*driver.ValueExpr)
		if !ok {
			v.err = errors.New("LIKE pattern must be a string literal")
			return in, true
		}
		if v.err == nil {
			v.Expression_ = expression.NewLike(child, patternExpr.Datum.GetString(), node.Not)
		}
		return in, true
	case *ast.ColumnNameExpr:
		colName := node.Name.Name.O
		colType := types.Invalid
		if v.schema_ != nil {
			if col, ok := v.schema_.GetColumnByName(colName); ok {
				colType = col.GetType()
			}
		}
		v.Expression_ = expression.NewColumnValue(colName, colType)
		return in, true
	case *driver.ValueExpr:
		v.Expression_ = expression.NewConstantValue(*ValueExprToValue(node))
		return in, true
	default:
		v.err = errors.Newf("unsupported expression: %T", in)
	}

	return in, true
}

func (v *BinaryOpVisitor) Leave(in ast.Node) (ast.Node, bool) {
	return in, true
}

// alignBooleanOperands converts TRUE/FALSE literals (parsed as integers)
// when compared with a boolean column
func (v *BinaryOpVisitor) alignBooleanOperands(left expression.Expression, right expression.Expression) (expression.Expression, expression.Expression) {
	conv := func(col expression.Expression, other expression.Expression) expression.Expression {
		cv, ok := other.(*expression.ConstantValue)
		if !ok || col.GetReturnType() != types.Boolean || cv.GetValue().ValueType() != types.Integer {
			return other
		}
		b, err := types.Coerce(*cv.GetValue(), types.Boolean)
		if err != nil {
			return other
		}
		return expression.NewConstantValue(b)
	}
	return conv(right, left), conv(left, right)
}

// GetTypesForBOperationExpr returns -1 for the unused kind
func GetTypesForBOperationExpr(opcode_ opcode.Op) (expression.LogicalOpType, expression.ComparisonType, bool) {
	switch opcode_ {
	case opcode.EQ:
		return -1, expression.Equal, true
	case opcode.GT:
		return -1, expression.GreaterThan, true
	case opcode.GE:
		return -1, expression.GreaterThanOrEqual, true
	case opcode.LT:
		return -1, expression.LessThan, true
	case opcode.LE:
		return -1, expression.LessThanOrEqual, true
	case opcode.NE:
		return -1, expression.NotEqual, true
	case opcode.LogicAnd:
		return expression.AND, -1, true
	case opcode.LogicOr:
		return expression.OR, -1, true
	default:
		return -1, -1, false
	}
}
