// this code is from https://github.com/brunocalza/go-bustub
// there is license and copyright notice in licenses/go-bustub dir

package schema

import (
	"encoding/binary"
	"math"
	"strings"

	"github.com/cockroachdb/errors"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ryogrid/SemOptDB/common"
	"github.com/ryogrid/SemOptDB/storage/table/column"
	"github.com/ryogrid/SemOptDB/types"
	"github.com/spaolacci/murmur3"
)

// Schema is an ordered immutable set of columns.
type Schema struct {
	name    string
	desc    string
	columns []*column.Column
	index   map[string]uint32
}

func NewSchema(name string, columns []*column.Column) *Schema {
	schema := &Schema{name: name, index: make(map[string]uint32)}
	for i, col := range columns {
		_, dup := schema.index[col.GetColumnName()]
		common.SH_Assert(!dup, "duplicated column name: "+col.GetColumnName())
		schema.index[col.GetColumnName()] = uint32(i)
		schema.columns = append(schema.columns, col)
	}
	return schema
}

func NewSchemaWithDesc(name string, desc string, columns []*column.Column) *Schema {
	ret := NewSchema(name, columns)
	ret.desc = desc
	return ret
}

// NewSchemaFromConfig builds a schema from its declarative form
func NewSchemaFromConfig(conf *common.SchemaConfig) (*Schema, error) {
	if conf == nil || len(conf.Columns) == 0 {
		return nil, errors.Mark(errors.New("schema has no columns"), common.ErrInvalidPlan)
	}
	cols := make([]*column.Column, 0, len(conf.Columns))
	seen := mapset.NewThreadUnsafeSet[string]()
	for _, cc := range conf.Columns {
		typeID := types.ParseTypeID(cc.Type)
		if typeID == types.Invalid {
			return nil, errors.Mark(errors.Newf("column %s has unknown type %q", cc.Name, cc.Type), common.ErrInvalidPlan)
		}
		if !seen.Add(cc.Name) {
			return nil, errors.Mark(errors.Newf("duplicated column %s", cc.Name), common.ErrInvalidPlan)
		}
		cols = append(cols, column.NewColumn(cc.Name, typeID, cc.Desc, cc.Required))
	}
	return NewSchemaWithDesc(conf.Name, conf.Desc, cols), nil
}

func (s *Schema) GetName() string {
	return s.name
}

func (s *Schema) GetDesc() string {
	return s.desc
}

func (s *Schema) GetColumn(colIndex uint32) *column.Column {
	return s.columns[colIndex]
}

func (s *Schema) GetColumnCount() uint32 {
	return uint32(len(s.columns))
}

// GetColIndex returns math.MaxUint32 when the column does not exist
func (s *Schema) GetColIndex(columnName string) uint32 {
	if idx, ok := s.index[columnName]; ok {
		return idx
	}
	return math.MaxUint32
}

func (s *Schema) GetColumns() []*column.Column {
	ret := make([]*column.Column, len(s.columns))
	copy(ret, s.columns)
	return ret
}

func (s *Schema) GetColumnByName(columnName string) (*column.Column, bool) {
	idx, ok := s.index[columnName]
	if !ok {
		return nil, false
	}
	return s.columns[idx], true
}

func (s *Schema) IsHaveColumn(columnName string) bool {
	_, ok := s.index[columnName]
	return ok
}

func (s *Schema) ColumnNames() []string {
	ret := make([]string, 0, len(s.columns))
	for _, col := range s.columns {
		ret = append(ret, col.GetColumnName())
	}
	return ret
}

func (s *Schema) NameSet() mapset.Set[string] {
	return mapset.NewThreadUnsafeSet[string](s.ColumnNames()...)
}

// Equals compares columns in order. names of the schemas are ignored.
func (s *Schema) Equals(other *Schema) bool {
	if s == other {
		return true
	}
	if other == nil || len(s.columns) != len(other.columns) {
		return false
	}
	for i, col := range s.columns {
		if !col.Equals(other.columns[i]) {
			return false
		}
	}
	return true
}

// IsDerivableFrom reports whether every column of s exists in from with the same type
func (s *Schema) IsDerivableFrom(from *Schema) bool {
	for _, col := range s.columns {
		fcol, ok := from.GetColumnByName(col.GetColumnName())
		if !ok || fcol.GetType() != col.GetType() {
			return false
		}
	}
	return true
}

// ConflictingColumns returns names which exist in both schemas with different types
func (s *Schema) ConflictingColumns(other *Schema) []string {
	ret := make([]string, 0)
	for _, col := range s.columns {
		ocol, ok := other.GetColumnByName(col.GetColumnName())
		if ok && ocol.GetType() != col.GetType() {
			ret = append(ret, col.GetColumnName())
		}
	}
	return ret
}

// GeneratedColumns returns columns of s which can not be copied from input
func (s *Schema) GeneratedColumns(input *Schema) []*column.Column {
	ret := make([]*column.Column, 0)
	for _, col := range s.columns {
		icol, ok := input.GetColumnByName(col.GetColumnName())
		if !ok || icol.GetType() != col.GetType() {
			ret = append(ret, col)
		}
	}
	return ret
}

// Fingerprint is a stable hash of column names and types
func (s *Schema) Fingerprint() uint64 {
	h := murmur3.New128()
	for _, col := range s.columns {
		h.Write([]byte(col.GetColumnName()))
		h.Write([]byte{0, byte(col.GetType())})
	}
	hash := h.Sum(nil)
	return binary.LittleEndian.Uint64(hash)
}

func (s *Schema) String() string {
	cols := make([]string, 0, len(s.columns))
	for _, col := range s.columns {
		cols = append(cols, col.String())
	}
	return s.name + "(" + strings.Join(cols, ", ") + ")"
}
