package expression

import "github.com/ryogrid/SemOptDB/types"

type AbstractExpression struct {
	/** The children of this expression. Note that the order of appearance of children may matter. */
	children [2]Expression
	/** The return type of this expression. */
	ret_type types.TypeID
}

func (e *AbstractExpression) GetChildAt(child_idx uint32) Expression {
	if child_idx >= uint32(len(e.children)) {
		return nil
	}
	return e.children[child_idx]
}

func (e *AbstractExpression) GetReturnType() types.TypeID { return e.ret_type }
