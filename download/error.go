package download

import (
	"errors"
	"fmt"

	"github.com/proteome-exchange/pxget/dataset"
)

// ErrUnsafeName is the cause of a TransferError for a file whose name would place it outside the destination directory.
var ErrUnsafeName = errors.New("file name is not a plain file name")

// TransferError is returned when a single attempt to download a file fails.
type TransferError struct {
	File    dataset.File
	Attempt int
	Err     error
}

func (e *TransferError) Error() string {
	if e.Attempt == 0 {
		return fmt.Sprintf("cannot download %s from %s: %s", e.File.Name, e.File.URI, e.Err)
	}
	return fmt.Sprintf("attempt %d to download %s from %s failed: %s", e.Attempt, e.File.Name, e.File.URI, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

// ExhaustedRetryError is returned when every attempt to download a file has failed.
// Err is the error of the last attempt.
type ExhaustedRetryError struct {
	File     dataset.File
	Attempts int
	Err      error
}

func (e *ExhaustedRetryError) Error() string {
	return fmt.Sprintf("giving up on %s after %d attempts: %s", e.File.Name, e.Attempts, e.Err)
}

func (e *ExhaustedRetryError) Unwrap() error {
	return e.Err
}
