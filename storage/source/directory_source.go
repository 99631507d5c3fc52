package source

import (
	"context"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"github.com/ryogrid/SemOptDB/storage/table/column"
	"github.com/ryogrid/SemOptDB/storage/table/schema"
	"github.com/ryogrid/SemOptDB/types"
)

const (
	FileNameColumn     = "filename"
	FileContentsColumn = "contents"
)

// FileSchema is the schema of rows yielded by DirectorySource
var FileSchema = schema.NewSchemaWithDesc("File", "A file in a directory", []*column.Column{
	column.NewColumn(FileNameColumn, types.Varchar, "The name of the file", true),
	column.NewColumn(FileContentsColumn, types.Bytes, "The contents of the file", false),
})

// DirectorySource yields one row per regular file, ordered by file name.
// sub directories are not traversed.
type DirectorySource struct {
	sourceID string
	path     string
}

func NewDirectorySource(sourceID string, path string) (*DirectorySource, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.Wrapf(err, "directory source %s", sourceID)
	}
	if !info.IsDir() {
		return nil, errors.Newf("directory source %s: %s is not a directory", sourceID, path)
	}
	return &DirectorySource{sourceID, path}, nil
}

func (ds *DirectorySource) GetSourceID() string {
	return ds.sourceID
}

func (ds *DirectorySource) GetSchema() *schema.Schema {
	return FileSchema
}

func (ds *DirectorySource) fileNames() ([]string, error) {
	// os.ReadDir returns entries sorted by filename
	entries, err := os.ReadDir(ds.path)
	if err != nil {
		return nil, errors.Wrapf(err, "listing %s", ds.path)
	}
	ret := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() {
			ret = append(ret, e.Name())
		}
	}
	return ret, nil
}

func (ds *DirectorySource) Scan(ctx context.Context) (Iterator, error) {
	names, err := ds.fileNames()
	if err != nil {
		return nil, err
	}
	return &directoryIterator{ctx, ds.path, names, 0}, nil
}

func (ds *DirectorySource) Cardinality() (int64, bool) {
	names, err := ds.fileNames()
	if err != nil {
		return 0, false
	}
	return int64(len(names)), true
}

type directoryIterator struct {
	ctx   context.Context
	dir   string
	names []string
	pos   int
}

func (it *directoryIterator) Next() (map[string]types.Value, bool, error) {
	if err := it.ctx.Err(); err != nil {
		return nil, true, err
	}
	if it.pos >= len(it.names) {
		return nil, true, nil
	}
	name := it.names[it.pos]
	it.pos++
	contents, err := os.ReadFile(filepath.Join(it.dir, name))
	if err != nil {
		return nil, false, errors.Wrapf(err, "reading %s", name)
	}
	return map[string]types.Value{
		FileNameColumn:     types.NewVarchar(name),
		FileContentsColumn: types.NewBytes(contents),
	}, false, nil
}

func (it *directoryIterator) Close() error {
	return nil
}
