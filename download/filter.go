package download

import (
	"regexp"

	"github.com/proteome-exchange/pxget/dataset"
)

// Filter decides which files are left out of a download.
// Implementations must be safe for concurrent use.
type Filter interface {
	// ShouldSkip returns true if f must not be downloaded.
	ShouldSkip(f dataset.File) bool
}

// FilterFunc adapts a function to Filter.
type FilterFunc func(f dataset.File) bool

// ShouldSkip calls fn(f).
func (fn FilterFunc) ShouldSkip(f dataset.File) bool {
	return fn(f)
}

type regexpFilter struct {
	re *regexp.Regexp
}

// RegexpFilter returns a Filter that skips files whose string form matches pattern.
func RegexpFilter(pattern string) (Filter, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	return regexpFilter{re: re}, nil
}

func (f regexpFilter) ShouldSkip(file dataset.File) bool {
	return f.re.MatchString(file.String())
}
