// Package jsonutil renders values for terminal output.
package jsonutil

import (
	"bytes"
	"sort"

	"github.com/fatih/structs"
	"github.com/hokaccha/go-prettyjson"
)

var formatter *prettyjson.Formatter

func init() {
	formatter = prettyjson.NewFormatter()
	formatter.Indent = 0
	formatter.Newline = ""
}

// SetColor enables or disables color information in the output.
func SetColor(enabled bool) {
	formatter.DisabledColor = !enabled
}

// MarshalCompactPretty formats the exported fields of struct v one per line
// in a compact JSON form, sorted by field name.
func MarshalCompactPretty(v interface{}) ([]byte, error) {
	return marshalFields(structs.Map(v))
}

// MarshalMapCompactPretty formats m one key per line, sorted by key.
func MarshalMapCompactPretty(m map[string]string) ([]byte, error) {
	fields := make(map[string]interface{}, len(m))
	for k, v := range m {
		fields[k] = v
	}
	return marshalFields(fields)
}

func marshalFields(m map[string]interface{}) ([]byte, error) {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	var buf bytes.Buffer
	for _, name := range names {
		b, err := formatter.Marshal(m[name])
		if err != nil {
			return nil, err
		}
		buf.WriteString(name)
		buf.WriteString(": ")
		buf.Write(b)
		buf.WriteRune('\n')
	}
	return buf.Bytes(), nil
}
