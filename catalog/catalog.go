package catalog

import (
	"sort"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ryogrid/SemOptDB/common"
	"github.com/ryogrid/SemOptDB/storage/source"
)

// Catalog is a non-persistent registry of data sources which logical plans scan.
type Catalog struct {
	sources map[uint32]*SourceMetadata
	names   map[string]uint32
	nextOID uint32
	latch   common.ReaderWriterLatch
}

func NewCatalog() *Catalog {
	return &Catalog{make(map[uint32]*SourceMetadata), make(map[string]uint32), 0, common.NewRWLatch()}
}

// RegisterSource adds ds. a source id can be registered only once.
func (c *Catalog) RegisterSource(ds source.DataSource) (*SourceMetadata, error) {
	c.latch.WLock()
	defer c.latch.WUnlock()

	if _, ok := c.names[ds.GetSourceID()]; ok {
		return nil, errors.Newf("source %s is already registered", ds.GetSourceID())
	}
	oid := c.nextOID
	c.nextOID++
	meta := &SourceMetadata{ds, oid, time.Now()}
	c.sources[oid] = meta
	c.names[ds.GetSourceID()] = oid

	common.ShPrintf(common.INFO, "source registered: %s %s\n", ds.GetSourceID(), ds.GetSchema())
	return meta, nil
}

func (c *Catalog) DeregisterSource(sourceID string) bool {
	c.latch.WLock()
	defer c.latch.WUnlock()

	oid, ok := c.names[sourceID]
	if !ok {
		return false
	}
	delete(c.names, sourceID)
	delete(c.sources, oid)
	return true
}

func (c *Catalog) GetSourceByName(sourceID string) (*SourceMetadata, error) {
	c.latch.RLock()
	defer c.latch.RUnlock()

	if oid, ok := c.names[sourceID]; ok {
		return c.sources[oid], nil
	}
	return nil, errors.Wrapf(common.ErrSourceNotFound, "source %s", sourceID)
}

func (c *Catalog) GetSourceByOID(oid uint32) *SourceMetadata {
	c.latch.RLock()
	defer c.latch.RUnlock()

	if meta, ok := c.sources[oid]; ok {
		return meta
	}
	return nil
}

// GetSourceIDs returns registered source ids in lexical order
func (c *Catalog) GetSourceIDs() []string {
	c.latch.RLock()
	defer c.latch.RUnlock()

	ret := make([]string, 0, len(c.names))
	for name := range c.names {
		ret = append(ret, name)
	}
	sort.Strings(ret)
	return ret
}
