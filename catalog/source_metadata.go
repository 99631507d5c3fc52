package catalog

import (
	"time"

	"github.com/ryogrid/SemOptDB/storage/source"
	"github.com/ryogrid/SemOptDB/storage/table/schema"
)

type SourceMetadata struct {
	ds           source.DataSource
	oid          uint32
	registeredAt time.Time
}

func (s *SourceMetadata) Schema() *schema.Schema {
	return s.ds.GetSchema()
}

func (s *SourceMetadata) OID() uint32 {
	return s.oid
}

func (s *SourceMetadata) Source() source.DataSource {
	return s.ds
}

func (s *SourceMetadata) RegisteredAt() time.Time {
	return s.registeredAt
}

// Cardinality falls back to defaultCard when the source can not tell its size
func (s *SourceMetadata) Cardinality(defaultCard int64) int64 {
	if card, ok := s.ds.Cardinality(); ok {
		return card
	}
	return defaultCard
}
