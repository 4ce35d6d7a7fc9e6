// Package dataset describes a ProteomeXchange dataset and fetches its
// metadata document from the ProteomeCentral index.
package dataset

import (
	"fmt"
	"strings"
)

// Dataset is the index record of a deposited experiment.
type Dataset struct {
	ID          string
	Summary     Summary
	Identifiers []Identifier
	Species     []Params
	Instruments []Params
	Contacts    []Params
	Files       []File
}

// Summary holds the descriptive block of a dataset.
type Summary struct {
	Title             string
	HostingRepository string
	Description       string
	ReviewLevel       string
	RepositorySupport string
}

// Identifier names the dataset in one repository.
type Identifier struct {
	Repository string
	ID         string
}

// File is one entry of the dataset file list.
type File struct {
	ID   string
	Name string
	// Type classifies the file, e.g. "Associated file" or "Result file".
	Type string
	URI  string
}

func (f File) String() string {
	return fmt.Sprintf("%s %s %s %s", f.ID, f.Name, f.Type, f.URI)
}

// Value is a parameter value. Parameters without a value are flags.
type Value struct {
	Text string
	Flag bool
}

func (v Value) String() string {
	if v.Flag {
		return "true"
	}
	return v.Text
}

// Params maps normalized parameter names to values.
type Params map[string]Value

// Get returns the value stored under key. Whitespace in key is normalized
// the same way it is at parse time.
func (p Params) Get(key string) (Value, bool) {
	v, ok := p[normalizeKey(key)]
	return v, ok
}

// Strings returns the parameters as plain strings.
func (p Params) Strings() map[string]string {
	m := make(map[string]string, len(p))
	for k, v := range p {
		m[k] = v.String()
	}
	return m
}

func normalizeKey(key string) string {
	return strings.Join(strings.Fields(key), " ")
}
