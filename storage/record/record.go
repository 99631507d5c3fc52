package record

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/oklog/ulid/v2"
	"github.com/ryogrid/SemOptDB/common"
	"github.com/ryogrid/SemOptDB/storage/table/schema"
	"github.com/ryogrid/SemOptDB/types"
)

// Provenance links a record to the source row it came from and to
// the operators which produced it.
type Provenance struct {
	SourceID    string
	SourceIndex int64
	ParentIDs   []ulid.ULID
	OpChain     []string
}

func (p Provenance) clone() Provenance {
	ret := Provenance{SourceID: p.SourceID, SourceIndex: p.SourceIndex}
	ret.ParentIDs = append([]ulid.ULID{}, p.ParentIDs...)
	ret.OpChain = append([]string{}, p.OpChain...)
	return ret
}

// Record is immutable. transforms derive new records, never edit in place.
type Record struct {
	id         ulid.ULID
	schema_    *schema.Schema
	values     []types.Value
	provenance Provenance
}

func newRecord(schema_ *schema.Schema, values map[string]types.Value, prov Provenance) (*Record, error) {
	r := &Record{id: ulid.Make(), schema_: schema_, provenance: prov}
	r.values = make([]types.Value, schema_.GetColumnCount())
	for i, col := range schema_.GetColumns() {
		val, ok := values[col.GetColumnName()]
		if !ok || val.IsNull() {
			if col.IsRequired() {
				return nil, errors.Mark(errors.Newf("required attribute %s is missing", col.GetColumnName()), common.ErrSchemaMismatch)
			}
			r.values[i] = types.NewNull(col.GetType())
			continue
		}
		if val.ValueType() != col.GetType() {
			return nil, errors.Mark(errors.Newf("attribute %s is %s, but schema declares %s",
				col.GetColumnName(), val.ValueType(), col.GetType()), common.ErrSchemaMismatch)
		}
		r.values[i] = val
	}
	return r, nil
}

// NewSourceRecord creates the record for the idx-th row of a source. scanOpID
// becomes the first element of the operator chain.
func NewSourceRecord(sourceID string, idx int64, scanOpID string, schema_ *schema.Schema, values map[string]types.Value) (*Record, error) {
	return newRecord(schema_, values, Provenance{
		SourceID:    sourceID,
		SourceIndex: idx,
		ParentIDs:   []ulid.ULID{},
		OpChain:     []string{scanOpID},
	})
}

// Derive creates a child record produced by opID
func (r *Record) Derive(opID string, schema_ *schema.Schema, values map[string]types.Value) (*Record, error) {
	prov := r.provenance.clone()
	prov.ParentIDs = []ulid.ULID{r.id}
	prov.OpChain = append(prov.OpChain, opID)
	return newRecord(schema_, values, prov)
}

// DeriveFromMany creates a record from several parents, e.g. an aggregate.
// source position and operator chain follow the first parent.
func DeriveFromMany(opID string, schema_ *schema.Schema, values map[string]types.Value, parents []*Record) (*Record, error) {
	prov := Provenance{SourceIndex: -1, ParentIDs: make([]ulid.ULID, 0, len(parents))}
	if len(parents) > 0 {
		prov = parents[0].provenance.clone()
		prov.ParentIDs = make([]ulid.ULID, 0, len(parents))
	}
	for _, p := range parents {
		prov.ParentIDs = append(prov.ParentIDs, p.id)
	}
	prov.OpChain = append(prov.OpChain, opID)
	return newRecord(schema_, values, prov)
}

func (r *Record) GetID() ulid.ULID {
	return r.id
}

func (r *Record) GetSchema() *schema.Schema {
	return r.schema_
}

func (r *Record) GetProvenance() Provenance {
	return r.provenance.clone()
}

func (r *Record) GetSourceIndex() int64 {
	return r.provenance.SourceIndex
}

func (r *Record) GetValueAt(colIndex uint32) types.Value {
	return r.values[colIndex]
}

func (r *Record) GetValue(columnName string) (types.Value, bool) {
	idx := r.schema_.GetColIndex(columnName)
	if idx >= uint32(len(r.values)) {
		return types.Value{}, false
	}
	return r.values[idx], true
}

// Values returns a copy of attribute values keyed by column name
func (r *Record) Values() map[string]types.Value {
	ret := make(map[string]types.Value, len(r.values))
	for i, col := range r.schema_.GetColumns() {
		ret[col.GetColumnName()] = r.values[i]
	}
	return ret
}

// ToMap returns go native values. it is used for JSON and msgpack output.
func (r *Record) ToMap() map[string]interface{} {
	ret := make(map[string]interface{}, len(r.values))
	for i, col := range r.schema_.GetColumns() {
		ret[col.GetColumnName()] = r.values[i].ToInterface()
	}
	return ret
}

// ConformsTo checks the record against expected schema
func (r *Record) ConformsTo(expected *schema.Schema) error {
	if !r.schema_.Equals(expected) {
		return errors.Mark(errors.Newf("record schema %s does not match %s", r.schema_, expected), common.ErrSchemaMismatch)
	}
	return nil
}

func (r *Record) String() string {
	parts := make([]string, 0, len(r.values))
	for i, col := range r.schema_.GetColumns() {
		parts = append(parts, fmt.Sprintf("%s=%s", col.GetColumnName(), r.values[i].ToString()))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
