package source

import (
	"bufio"
	"bytes"
	"context"
	"os"
	"reflect"

	"github.com/cockroachdb/errors"
	"github.com/ryogrid/SemOptDB/common"
	"github.com/ryogrid/SemOptDB/storage/table/schema"
	"github.com/ryogrid/SemOptDB/types"
	"github.com/ugorji/go/codec"
)

var mapStrIntfTyp = reflect.TypeOf(map[string]interface{}(nil))

// JSONLinesSource yields one row per non empty line of a JSON lines file.
// attributes are converted to the declared column types.
type JSONLinesSource struct {
	sourceID string
	path     string
	schema_  *schema.Schema
	handle   *codec.JsonHandle
}

func NewJSONLinesSource(sourceID string, path string, schema_ *schema.Schema) (*JSONLinesSource, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, errors.Wrapf(err, "jsonl source %s", sourceID)
	}
	h := new(codec.JsonHandle)
	h.MapType = mapStrIntfTyp
	return &JSONLinesSource{sourceID, path, schema_, h}, nil
}

func (js *JSONLinesSource) GetSourceID() string {
	return js.sourceID
}

func (js *JSONLinesSource) GetSchema() *schema.Schema {
	return js.schema_
}

func (js *JSONLinesSource) Scan(ctx context.Context) (Iterator, error) {
	f, err := os.Open(js.path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", js.path)
	}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	return &jsonLinesIterator{ctx, js, f, scanner, 0}, nil
}

func (js *JSONLinesSource) Cardinality() (int64, bool) {
	f, err := os.Open(js.path)
	if err != nil {
		return 0, false
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	var cnt int64
	for scanner.Scan() {
		if len(bytes.TrimSpace(scanner.Bytes())) > 0 {
			cnt++
		}
	}
	if scanner.Err() != nil {
		return 0, false
	}
	return cnt, true
}

type jsonLinesIterator struct {
	ctx     context.Context
	src     *JSONLinesSource
	f       *os.File
	scanner *bufio.Scanner
	lineNum int
}

func (it *jsonLinesIterator) Next() (map[string]types.Value, bool, error) {
	for {
		if err := it.ctx.Err(); err != nil {
			return nil, true, err
		}
		if !it.scanner.Scan() {
			if err := it.scanner.Err(); err != nil {
				return nil, true, errors.Wrapf(err, "reading %s", it.src.path)
			}
			return nil, true, nil
		}
		it.lineNum++
		line := bytes.TrimSpace(it.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		decoded := make(map[string]interface{})
		if err := codec.NewDecoderBytes(line, it.src.handle).Decode(&decoded); err != nil {
			return nil, false, errors.Wrapf(err, "%s line %d", it.src.path, it.lineNum)
		}
		row, err := it.convert(decoded)
		if err != nil {
			return nil, false, errors.Wrapf(err, "%s line %d", it.src.path, it.lineNum)
		}
		return row, false, nil
	}
}

func (it *jsonLinesIterator) convert(decoded map[string]interface{}) (map[string]types.Value, error) {
	row := make(map[string]types.Value, len(decoded))
	for _, col := range it.src.schema_.GetColumns() {
		raw, ok := decoded[col.GetColumnName()]
		if !ok {
			continue
		}
		val, err := types.NewValueFromInterface(raw)
		if err != nil {
			return nil, err
		}
		val, err = types.Coerce(val, col.GetType())
		if err != nil {
			return nil, errors.Mark(errors.Wrapf(err, "attribute %s", col.GetColumnName()), common.ErrSchemaMismatch)
		}
		row[col.GetColumnName()] = val
	}
	return row, nil
}

func (it *jsonLinesIterator) Close() error {
	return it.f.Close()
}
