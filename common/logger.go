package common

import (
	"fmt"
	"strings"
)

type LogLevel int32

const (
	DEBUG_INFO_DETAIL LogLevel = 1
	DEBUG_INFO                 = 2
	RDB_OP_FUNC_CALL           = 4
	DEBUGGING                  = 8
	INFO                       = 16
	WARN                       = 32
	ERROR                      = 64
	FATAL                      = 128
)

// LogLevelSetting is a bitmask of the LogLevel kinds which are printed
var LogLevelSetting LogLevel = WARN | ERROR | FATAL

func ShPrintf(logLevel LogLevel, fmtStl string, a ...interface{}) {
	if logLevel&LogLevelSetting > 0 {
		fmt.Printf(fmtStl, a...)
	}
}

// ParseLogLevels converts names like "INFO|WARN" into a bitmask.
// unknown names are ignored.
func ParseLogLevels(names string) LogLevel {
	var ret LogLevel
	for _, name := range strings.FieldsFunc(names, func(r rune) bool { return r == '|' || r == ',' || r == ' ' }) {
		switch strings.ToUpper(name) {
		case "DEBUG_INFO_DETAIL":
			ret |= DEBUG_INFO_DETAIL
		case "DEBUG_INFO":
			ret |= DEBUG_INFO
		case "RDB_OP_FUNC_CALL":
			ret |= RDB_OP_FUNC_CALL
		case "DEBUGGING":
			ret |= DEBUGGING
		case "INFO":
			ret |= INFO
		case "WARN":
			ret |= WARN
		case "ERROR":
			ret |= ERROR
		case "FATAL":
			ret |= FATAL
		}
	}
	return ret
}
