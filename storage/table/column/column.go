// this code is from https://github.com/brunocalza/go-bustub
// there is license and copyright notice in licenses/go-bustub dir

package column

import (
	"fmt"

	"github.com/ryogrid/SemOptDB/types"
)

// Column is an attribute declaration. desc is the natural language
// description which is passed to models when the attribute is generated.
type Column struct {
	columnName string
	columnType types.TypeID
	desc       string
	required   bool
}

func NewColumn(name string, columnType types.TypeID, desc string, required bool) *Column {
	return &Column{name, columnType, desc, required}
}

func (c *Column) GetColumnName() string {
	return c.columnName
}

func (c *Column) GetType() types.TypeID {
	return c.columnType
}

func (c *Column) GetDesc() string {
	return c.desc
}

func (c *Column) IsRequired() bool {
	return c.required
}

// Equals compares name, type and required flag. description is ignored.
func (c *Column) Equals(other *Column) bool {
	return c.columnName == other.columnName && c.columnType == other.columnType && c.required == other.required
}

func (c *Column) String() string {
	if c.required {
		return fmt.Sprintf("%s %s NOT NULL", c.columnName, c.columnType)
	}
	return fmt.Sprintf("%s %s", c.columnName, c.columnType)
}
