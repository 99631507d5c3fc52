package plans

import (
	"fmt"

	"github.com/ryogrid/SemOptDB/planner"
	"github.com/ryogrid/SemOptDB/storage/table/schema"
)

// Strategy is the closed set of physical implementations
type Strategy int

const (
	MarshalAndScan Strategy = iota
	SimpleConvert
	LLMConvertBonded
	LLMConvertConventional
	LLMConvertBondedWithFallback
	BatchedBondedConvert
	CodeSynthesisConvert
	LLMFilter
	ExpressionFilter
	CountAggregate
	AverageAggregate
	LimitStrategy
	ApplyUDF
)

func (s Strategy) String() string {
	switch s {
	case MarshalAndScan:
		return "MarshalAndScan"
	case SimpleConvert:
		return "SimpleConvert"
	case LLMConvertBonded:
		return "LLMConvertBonded"
	case LLMConvertConventional:
		return "LLMConvertConventional"
	case LLMConvertBondedWithFallback:
		return "LLMConvertBondedWithFallback"
	case BatchedBondedConvert:
		return "BatchedBondedConvert"
	case CodeSynthesisConvert:
		return "CodeSynthesisConvert"
	case LLMFilter:
		return "LLMFilter"
	case ExpressionFilter:
		return "ExpressionFilter"
	case CountAggregate:
		return "CountAggregate"
	case AverageAggregate:
		return "AverageAggregate"
	case LimitStrategy:
		return "Limit"
	case ApplyUDF:
		return "ApplyUDF"
	}
	return "Unknown"
}

// UsesModel reports whether the strategy invokes a model client
func (s Strategy) UsesModel() bool {
	switch s {
	case LLMConvertBonded, LLMConvertConventional, LLMConvertBondedWithFallback,
		BatchedBondedConvert, CodeSynthesisConvert, LLMFilter:
		return true
	}
	return false
}

// IsBlocking reports whether the operator emits only after all input is consumed
func (s Strategy) IsBlocking() bool {
	return s == CountAggregate || s == AverageAggregate
}

// OperatorEstimate is per input record
type OperatorEstimate struct {
	CostPerRecord float64
	TimePerRecord float64 // seconds
	Quality       float64
	// outputs per input
	Selectivity float64
}

func (e OperatorEstimate) String() string {
	return fmt.Sprintf("cost/rec=%.6f time/rec=%.4fs quality=%.3f sel=%.3f", e.CostPerRecord, e.TimePerRecord, e.Quality, e.Selectivity)
}

// PhysicalOperator is an immutable implementation choice for a logical operation
type PhysicalOperator struct {
	logicalOp     *planner.LogicalOperation
	strategy      Strategy
	model         string
	fallbackModel string
	batchSize     int
	estimate      OperatorEstimate
}

func NewPhysicalOperator(logicalOp *planner.LogicalOperation, strategy Strategy, model string) *PhysicalOperator {
	return &PhysicalOperator{logicalOp: logicalOp, strategy: strategy, model: model, batchSize: 1}
}

// WithFallbackModel returns a copy which uses model for per attribute fallback calls
func (op *PhysicalOperator) WithFallbackModel(model string) *PhysicalOperator {
	ret := *op
	ret.fallbackModel = model
	return &ret
}

func (op *PhysicalOperator) WithBatchSize(batchSize int) *PhysicalOperator {
	ret := *op
	if batchSize < 1 {
		batchSize = 1
	}
	ret.batchSize = batchSize
	return &ret
}

func (op *PhysicalOperator) WithEstimate(est OperatorEstimate) *PhysicalOperator {
	ret := *op
	ret.estimate = est
	return &ret
}

// GetID returns the id of the logical operation. it is recorded in provenance.
func (op *PhysicalOperator) GetID() string {
	return op.logicalOp.GetID()
}

func (op *PhysicalOperator) GetLogicalOp() *planner.LogicalOperation {
	return op.logicalOp
}

func (op *PhysicalOperator) GetKind() planner.LogicalOpType {
	return op.logicalOp.GetType()
}

func (op *PhysicalOperator) GetStrategy() Strategy {
	return op.strategy
}

func (op *PhysicalOperator) GetModel() string {
	return op.model
}

// GetFallbackModel returns model when no fallback model is set
func (op *PhysicalOperator) GetFallbackModel() string {
	if op.fallbackModel == "" {
		return op.model
	}
	return op.fallbackModel
}

func (op *PhysicalOperator) GetBatchSize() int {
	return op.batchSize
}

func (op *PhysicalOperator) GetEstimate() OperatorEstimate {
	return op.estimate
}

func (op *PhysicalOperator) GetInputSchema() *schema.Schema {
	return op.logicalOp.GetInputSchema()
}

func (op *PhysicalOperator) GetOutputSchema() *schema.Schema {
	return op.logicalOp.GetOutputSchema()
}

// GetImplTag identifies the implementation in statistics, e.g.
// "LLMConvertBonded:gpt-4". it does not depend on the logical operation.
func (op *PhysicalOperator) GetImplTag() string {
	tag := op.strategy.String()
	if op.model != "" {
		tag += ":" + op.model
	}
	if op.fallbackModel != "" && op.fallbackModel != op.model {
		tag += "+" + op.fallbackModel
	}
	if op.batchSize > 1 {
		tag += fmt.Sprintf("/b%d", op.batchSize)
	}
	if op.strategy == ApplyUDF {
		tag += ":" + op.logicalOp.GetUDFName()
	}
	return tag
}

func (op *PhysicalOperator) GetName() string {
	return op.logicalOp.GetType().String() + "[" + op.GetImplTag() + "]"
}

func (op *PhysicalOperator) String() string {
	return fmt.Sprintf("%s %s (%s)", op.GetID(), op.GetImplTag(), op.estimate)
}
