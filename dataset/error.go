package dataset

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when the index has no dataset for an accession.
var ErrNotFound = errors.New("dataset not found")

// MetadataError is returned when the metadata of a dataset cannot be fetched or parsed.
type MetadataError struct {
	Accession string
	Err       error
}

func (e *MetadataError) Error() string {
	return fmt.Sprintf("cannot get metadata of %s: %s", e.Accession, e.Err)
}

func (e *MetadataError) Unwrap() error {
	return e.Err
}
