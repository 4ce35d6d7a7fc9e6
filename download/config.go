package download

import (
	"time"

	"github.com/proteome-exchange/pxget/internal/urldownloader"
)

// Config for Downloader.
type Config struct {
	// Number of extra attempts after a failed transfer.
	Retries int `yaml:"retries"`
	// Time to wait before retrying a failed transfer.
	RetryBackoff time.Duration `yaml:"retry_backoff"`
	// Number of bytes read from the source at once.
	ChunkSize int `yaml:"chunk_size"`
	// A transfer fails if the source sends nothing for this long.
	ReadTimeout time.Duration `yaml:"read_timeout"`
	// Time to wait for TCP connections to open.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// DefaultConfig for Downloader.
var DefaultConfig = Config{
	Retries:        1,
	RetryBackoff:   2 * time.Second,
	ChunkSize:      urldownloader.DefaultChunkSize,
	ReadTimeout:    time.Minute,
	ConnectTimeout: 30 * time.Second,
}
