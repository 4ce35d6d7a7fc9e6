// Package download fetches the files of a dataset to a local directory.
//
// Downloader.DownloadAll builds a queue of the files that are not skipped by
// the filter, then drains it either sequentially on the calling goroutine
// (concurrency 1) or with a fixed pool of workers. Every queued file is
// attempted exactly once and a failed transfer is retried after a fixed
// backoff. In sequential mode the first file that still fails aborts the
// batch; with a pool the failure is logged and recorded in the file's Result
// while the other files proceed.
package download

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v3"
	"github.com/gofrs/uuid"

	"github.com/proteome-exchange/pxget/dataset"
	"github.com/proteome-exchange/pxget/internal/urldownloader"
	"github.com/proteome-exchange/pxget/internal/worker"
)

// Fetcher copies the bytes at source into a file at dest.
// The directory of dest exists. dest is closed before Fetch returns.
type Fetcher interface {
	Fetch(ctx context.Context, source, dest string) (int64, error)
}

// Logger is the logging port used by Downloader.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// Result is the outcome of downloading one queued file.
type Result struct {
	File     dataset.File
	Path     string
	Bytes    int64
	Attempts int
	// Err is nil on success, *ExhaustedRetryError if all attempts failed,
	// or the context error if the batch was canceled before the file finished.
	Err error
}

// Downloader downloads dataset files. It is safe to call DownloadAll concurrently.
type Downloader struct {
	config  Config
	fetcher Fetcher
	log     Logger
	metrics *Metrics
}

// New returns a Downloader. If f is nil, files are fetched with an urldownloader built from cfg.
func New(cfg Config, f Fetcher, l Logger) *Downloader {
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if f == nil {
		f = urldownloader.New(urldownloader.Options{
			ChunkSize:      cfg.ChunkSize,
			ReadTimeout:    cfg.ReadTimeout,
			ConnectTimeout: cfg.ConnectTimeout,
		})
	}
	return &Downloader{
		config:  cfg,
		fetcher: f,
		log:     l,
		metrics: newMetrics(),
	}
}

// Metrics returns the counters of d.
func (d *Downloader) Metrics() *Metrics {
	return d.metrics
}

type workItem struct {
	index int
	file  dataset.File
	path  string
	// err is set for files whose name cannot be used as a destination.
	err error
}

// DownloadAll downloads every file not skipped by filter into root, which must exist.
// filter may be nil. A concurrency of 1 downloads files one by one in order on the
// calling goroutine; zero or less starts one worker per queued file.
//
// Results are returned in queue order for the files that were queued.
// The returned error is non-nil only when a sequential batch is aborted.
func (d *Downloader) DownloadAll(ctx context.Context, files []dataset.File, root string, filter Filter, concurrency int) ([]Result, error) {
	queue := d.enqueue(files, root, filter)
	if len(queue) == 0 {
		d.log.Debugf("Nothing to download to %s", root)
		return nil, nil
	}

	id := newBatchID()
	d.log.Infof("Batch %s: downloading %d of %d files to %s", id, len(queue), len(files), root)
	start := time.Now()

	var results []Result
	var err error
	if concurrency == 1 {
		results, err = d.downloadSequential(ctx, queue)
	} else {
		results = d.downloadConcurrent(ctx, queue, concurrency)
	}

	var failed int
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	d.log.Infof("Batch %s: %d of %d files downloaded, %d failed in %s",
		id, len(results)-failed, len(queue), failed, time.Since(start).Truncate(time.Millisecond))
	return results, err
}

// enqueue pairs each file that is not skipped with its destination, in input order.
func (d *Downloader) enqueue(files []dataset.File, root string, filter Filter) []workItem {
	queue := make([]workItem, 0, len(files))
	for _, f := range files {
		if filter != nil && filter.ShouldSkip(f) {
			d.metrics.FilesSkipped.Inc(1)
			d.log.Debugf("Skipping %s", f.Name)
			continue
		}
		path, err := destination(root, f.Name)
		queue = append(queue, workItem{
			index: len(queue),
			file:  f,
			path:  path,
			err:   err,
		})
	}
	d.metrics.FilesQueued.Inc(int64(len(queue)))
	return queue
}

// destination returns the path of name under root.
// name must be a single path element so that the file stays inside root.
func destination(root, name string) (string, error) {
	if name == "" || name == "." || name == ".." || filepath.Base(name) != name || filepath.IsAbs(name) {
		return "", fmt.Errorf("%w: %q", ErrUnsafeName, name)
	}
	path := filepath.Join(root, name)
	rel, err := filepath.Rel(root, path)
	if err != nil || rel != name {
		return "", fmt.Errorf("%w: %q", ErrUnsafeName, name)
	}
	return path, nil
}

func (d *Downloader) downloadSequential(ctx context.Context, queue []workItem) ([]Result, error) {
	results := make([]Result, 0, len(queue))
	for _, it := range queue {
		r := d.download(ctx, it)
		results = append(results, r)
		if r.Err != nil {
			return results, r.Err
		}
	}
	return results, nil
}

func (d *Downloader) downloadConcurrent(ctx context.Context, queue []workItem, concurrency int) []Result {
	numWorkers := concurrency
	if numWorkers <= 0 || numWorkers > len(queue) {
		numWorkers = len(queue)
	}

	workC := make(chan workItem, len(queue))
	for _, it := range queue {
		workC <- it
	}
	close(workC)

	results := make([]Result, len(queue))
	var workers worker.Workers
	for i := 0; i < numWorkers; i++ {
		workers.Start(&queueWorker{
			downloader: d,
			ctx:        ctx,
			workC:      workC,
			results:    results,
		})
	}
	select {
	case <-workers.Done():
	case <-ctx.Done():
		workers.Stop()
	}

	// Files that no worker reached before cancellation.
	for i := range results {
		if results[i].Attempts == 0 && results[i].Err == nil {
			results[i] = Result{File: queue[i].file, Path: queue[i].path, Err: ctx.Err()}
		}
	}
	return results
}

// queueWorker downloads items from workC until it is drained.
type queueWorker struct {
	downloader *Downloader
	ctx        context.Context
	workC      <-chan workItem
	results    []Result
}

func (w *queueWorker) Run(stopC <-chan struct{}) {
	for {
		select {
		case it, ok := <-w.workC:
			if !ok {
				return
			}
			w.results[it.index] = w.downloader.download(w.ctx, it)
		case <-stopC:
			return
		}
	}
}

// download fetches a single file, retrying failed transfers.
func (d *Downloader) download(ctx context.Context, it workItem) Result {
	res := Result{File: it.file, Path: it.path}
	if err := ctx.Err(); err != nil {
		res.Err = err
		return res
	}
	if it.err != nil {
		d.metrics.DownloadsFailed.Inc(1)
		res.Err = &TransferError{File: it.file, Err: it.err}
		d.log.Errorf("Not downloading %s: %s", it.file.URI, it.err)
		return res
	}

	d.log.Infof("Downloading %s to %s", it.file.Name, it.path)
	d.metrics.DownloadsStarted.Inc(1)
	d.metrics.DownloadsActive.Inc(1)
	defer d.metrics.DownloadsActive.Dec(1)

	op := func() error {
		res.Attempts++
		n, err := d.fetcher.Fetch(ctx, it.file.URI, it.path)
		res.Bytes = n
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return &TransferError{File: it.file, Attempt: res.Attempts, Err: err}
		}
		return nil
	}
	notify := func(err error, wait time.Duration) {
		d.metrics.Retries.Inc(1)
		d.log.Errorf("%s, retrying in %s", err, wait)
	}
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(d.config.RetryBackoff), uint64(d.config.Retries)), ctx)
	err := backoff.RetryNotify(op, b, notify)
	if err == nil {
		d.metrics.DownloadsCompleted.Inc(1)
		d.metrics.BytesDownloaded.Inc(res.Bytes)
		d.log.Debugf("Downloaded %s (%d bytes)", it.file.Name, res.Bytes)
		return res
	}

	d.metrics.DownloadsFailed.Inc(1)
	if ctxErr := ctx.Err(); ctxErr != nil && (errors.Is(err, ctxErr) || res.Attempts <= d.config.Retries) {
		res.Err = ctxErr
		d.log.Errorf("Download of %s canceled: %s", it.file.Name, err)
		return res
	}
	res.Err = &ExhaustedRetryError{File: it.file, Attempts: res.Attempts, Err: err}
	d.log.Errorf("%s", res.Err)
	return res
}

func newBatchID() string {
	u, err := uuid.NewV4()
	if err != nil {
		return "-"
	}
	return base64.RawURLEncoding.EncodeToString(u[:6])
}
