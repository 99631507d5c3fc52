package planner

import (
	"strings"

	"github.com/ryogrid/SemOptDB/common"
)

// PlanSpec is the declarative form of a logical plan. it is accepted by the
// server (JSON) and the command line tool (YAML or JSON).
type PlanSpec struct {
	Source     string          `json:"source" yaml:"source"`
	Operations []OperationSpec `json:"operations" yaml:"operations"`
}

type OperationSpec struct {
	// convert, filter, count, average, limit or udf
	Kind string `json:"kind" yaml:"kind"`
	// convert and udf
	Schema      *common.SchemaConfig `json:"schema,omitempty" yaml:"schema,omitempty"`
	Cardinality string               `json:"cardinality,omitempty" yaml:"cardinality,omitempty"`
	// filter
	Condition string `json:"condition,omitempty" yaml:"condition,omitempty"`
	Predicate string `json:"predicate,omitempty" yaml:"predicate,omitempty"`
	// average
	Field string `json:"field,omitempty" yaml:"field,omitempty"`
	// limit
	Limit int64 `json:"limit,omitempty" yaml:"limit,omitempty"`
	// udf, looked up in the planner's function registry
	Func string `json:"func,omitempty" yaml:"func,omitempty"`

	Desc      string   `json:"desc,omitempty" yaml:"desc,omitempty"`
	DependsOn []string `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
}

func parseCardinality(s string) (Cardinality, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "one-to-one", "onetoone":
		return OneToOne, true
	case "one-to-many", "onetomany":
		return OneToMany, true
	}
	return OneToOne, false
}

func (opSpec OperationSpec) options() []OpOption {
	ret := make([]OpOption, 0)
	if opSpec.Desc != "" {
		ret = append(ret, WithDesc(opSpec.Desc))
	}
	if len(opSpec.DependsOn) > 0 {
		ret = append(ret, WithDependsOn(opSpec.DependsOn...))
	}
	return ret
}
