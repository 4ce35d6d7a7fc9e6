package download

import (
	"github.com/rcrowley/go-metrics"
)

// Metrics counts the work done by a Downloader over its lifetime.
type Metrics struct {
	registry metrics.Registry

	FilesQueued        metrics.Counter
	FilesSkipped       metrics.Counter
	DownloadsStarted   metrics.Counter
	DownloadsCompleted metrics.Counter
	DownloadsFailed    metrics.Counter
	DownloadsActive    metrics.Counter
	Retries            metrics.Counter
	BytesDownloaded    metrics.Counter
}

func newMetrics() *Metrics {
	r := metrics.NewRegistry()
	return &Metrics{
		registry:           r,
		FilesQueued:        metrics.NewRegisteredCounter("files_queued", r),
		FilesSkipped:       metrics.NewRegisteredCounter("files_skipped", r),
		DownloadsStarted:   metrics.NewRegisteredCounter("downloads_started", r),
		DownloadsCompleted: metrics.NewRegisteredCounter("downloads_completed", r),
		DownloadsFailed:    metrics.NewRegisteredCounter("downloads_failed", r),
		DownloadsActive:    metrics.NewRegisteredCounter("downloads_active", r),
		Retries:            metrics.NewRegisteredCounter("retries", r),
		BytesDownloaded:    metrics.NewRegisteredCounter("bytes_downloaded", r),
	}
}

// Registry returns the registry holding all counters.
func (m *Metrics) Registry() metrics.Registry {
	return m.registry
}
