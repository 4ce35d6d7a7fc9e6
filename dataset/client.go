package dataset

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v3"
)

// DefaultIndexURL is the ProteomeCentral dataset endpoint. {accession} is replaced with the query-escaped accession.
const DefaultIndexURL = "http://proteomecentral.proteomexchange.org/cgi/GetDataset?ID={accession}&outputMode=XML&test=no"

// maxDocumentSize bounds the metadata document read into memory.
const maxDocumentSize = 64 << 20

// Config for Client.
type Config struct {
	// IndexURL is the metadata endpoint template.
	IndexURL string `yaml:"index_url"`
	// Timeout for a single metadata request.
	Timeout time.Duration `yaml:"timeout"`
	// Retries is the number of extra attempts after a transient failure.
	Retries int `yaml:"retries"`
	// RetryInterval is the first wait between attempts. It grows exponentially.
	RetryInterval time.Duration `yaml:"retry_interval"`
	// CacheTTL is how long a cached document is used before it is fetched again.
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// DefaultConfig for Client.
var DefaultConfig = Config{
	IndexURL:      DefaultIndexURL,
	Timeout:       time.Minute,
	Retries:       3,
	RetryInterval: 500 * time.Millisecond,
	CacheTTL:      24 * time.Hour,
}

// Cache stores raw metadata documents by accession.
type Cache interface {
	// Get returns the document and the time it was stored. ok is false if there is no entry.
	Get(accession string) (doc []byte, storedAt time.Time, ok bool, err error)
	Put(accession string, doc []byte) error
	Delete(accession string) error
}

// Logger is the logging port used by Client.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// Client resolves accessions to datasets.
type Client struct {
	config Config
	http   *http.Client
	cache  Cache
	log    Logger
	now    func() time.Time
}

// NewClient returns a Client. cache may be nil.
func NewClient(cfg Config, cache Cache, l Logger) *Client {
	if cfg.IndexURL == "" {
		cfg.IndexURL = DefaultIndexURL
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	return &Client{
		config: cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		cache:  cache,
		log:    l,
		now:    time.Now,
	}
}

// URL returns the index URL for accession.
func (c *Client) URL(accession string) string {
	return strings.Replace(c.config.IndexURL, "{accession}", url.QueryEscape(accession), -1)
}

// Get fetches and parses the metadata of the dataset with the given accession.
func (c *Client) Get(ctx context.Context, accession string) (*Dataset, error) {
	ds, err := c.get(ctx, accession)
	if err != nil {
		return nil, &MetadataError{Accession: accession, Err: err}
	}
	return ds, nil
}

func (c *Client) get(ctx context.Context, accession string) (*Dataset, error) {
	if ds := c.fromCache(accession); ds != nil {
		return ds, nil
	}
	var doc []byte
	op := func() error {
		var err error
		doc, err = c.fetch(ctx, accession)
		return err
	}
	notify := func(err error, wait time.Duration) {
		c.log.Errorf("Cannot fetch metadata of %s, retrying in %s: %s", accession, wait, err)
	}
	bo := backoff.NewExponentialBackOff()
	if c.config.RetryInterval > 0 {
		bo.InitialInterval = c.config.RetryInterval
	}
	b := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(c.config.Retries)), ctx)
	if err := backoff.RetryNotify(op, b, notify); err != nil {
		return nil, err
	}
	ds, err := Parse(bytes.NewReader(doc))
	if err != nil {
		return nil, err
	}
	if c.cache != nil {
		if err = c.cache.Put(accession, doc); err != nil {
			c.log.Errorf("Cannot cache metadata of %s: %s", accession, err)
		}
	}
	return ds, nil
}

func (c *Client) fromCache(accession string) *Dataset {
	if c.cache == nil {
		return nil
	}
	doc, storedAt, ok, err := c.cache.Get(accession)
	if err != nil {
		c.log.Errorf("Cannot read metadata cache: %s", err)
		return nil
	}
	if !ok || c.now().Sub(storedAt) > c.config.CacheTTL {
		return nil
	}
	ds, err := Parse(bytes.NewReader(doc))
	if err != nil {
		c.log.Errorf("Removing corrupt cache entry for %s: %s", accession, err)
		if err = c.cache.Delete(accession); err != nil {
			c.log.Errorf("Cannot remove cache entry for %s: %s", accession, err)
		}
		return nil
	}
	c.log.Debugf("Using metadata of %s cached at %s", accession, storedAt.Format(time.RFC3339))
	return ds
}

// fetch does a single request. Errors that retrying cannot fix are wrapped with backoff.Permanent.
func (c *Client) fetch(ctx context.Context, accession string) ([]byte, error) {
	u := c.URL(accession)
	c.log.Infof("Fetching metadata of %s from %s", accession, u)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		return nil, err
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return nil, backoff.Permanent(ErrNotFound)
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("index returned status %d", resp.StatusCode)
	default:
		return nil, backoff.Permanent(fmt.Errorf("index returned status %d", resp.StatusCode))
	}
	doc, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
	if err != nil {
		return nil, err
	}
	return doc, nil
}
