package dataset

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-http-utils/headers"

	"github.com/YuminosukeSato/winequality/pkg/errors"
	"github.com/YuminosukeSato/winequality/pkg/log"
)

// DefaultURL is the red wine-quality dataset published with MLflow's tests.
const DefaultURL = "https://raw.githubusercontent.com/mlflow/mlflow/master/tests/datasets/winequality-red.csv"

// DefaultTimeout bounds one download.
const DefaultTimeout = 30 * time.Second

// maxBodySize caps how much of a response is read into memory.
const maxBodySize = 32 << 20

var defaultHTTPClient = &http.Client{
	Transport: &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: 15 * time.Second,
	},
}

// Loader reads the dataset from an http(s) URL, a file:// URL or a local
// path. With a cache path, downloads are saved there and used if a later
// download fails.
type Loader struct {
	source    string
	cachePath string
	sep       rune
	timeout   time.Duration
	client    *http.Client
	maxBody   int64
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithCachePath sets the file used to save downloads and to fall back on.
func WithCachePath(path string) LoaderOption {
	return func(l *Loader) {
		l.cachePath = path
	}
}

// WithSeparator sets the CSV field delimiter.
func WithSeparator(sep rune) LoaderOption {
	return func(l *Loader) {
		l.sep = sep
	}
}

// WithTimeout bounds a single download.
func WithTimeout(d time.Duration) LoaderOption {
	return func(l *Loader) {
		l.timeout = d
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) LoaderOption {
	return func(l *Loader) {
		l.client = c
	}
}

// NewLoader creates a Loader for source. An empty source means DefaultURL.
func NewLoader(source string, opts ...LoaderOption) *Loader {
	if source == "" {
		source = DefaultURL
	}
	l := &Loader{
		source:  source,
		sep:     DefaultSeparator,
		timeout: DefaultTimeout,
		client:  defaultHTTPClient,
		maxBody: maxBodySize,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Source returns the location the loader reads from.
func (l *Loader) Source() string {
	return l.source
}

// Load reads and parses the dataset. Every failure is a DataUnavailableError.
func (l *Loader) Load(ctx context.Context) (*Table, error) {
	logger := log.GetLogger().With(log.ComponentKey, "dataset", log.OperationKey, log.OperationLoad)
	start := time.Now()

	raw, err := l.fetch(ctx)
	var table *Table
	if err == nil {
		table, err = ReadCSV(bytes.NewReader(raw), l.sep)
	}
	if err != nil {
		if l.cachePath == "" || ctx.Err() != nil {
			return nil, err
		}
		cached, cerr := l.loadCache()
		if cerr != nil {
			logger.Debug("no usable dataset cache", log.ErrAttrKey, cerr.Error())
			return nil, err
		}
		logger.Warn("dataset download failed, using cached copy",
			log.SourceKey, l.source,
			log.CachePathKey, l.cachePath,
			log.ErrAttrKey, err.Error(),
		)
		return cached, nil
	}

	if l.cachePath != "" && isRemote(l.source) {
		if werr := writeFileAtomic(l.cachePath, raw); werr != nil {
			logger.Warn("failed to write dataset cache", log.CachePathKey, l.cachePath, log.ErrAttrKey, werr.Error())
		}
	}

	rows, cols := table.Dims()
	logger.Info("dataset loaded",
		log.SourceKey, l.source,
		log.SamplesKey, rows,
		log.FeaturesKey, cols-1,
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return table, nil
}

func (l *Loader) fetch(ctx context.Context) ([]byte, error) {
	if !isRemote(l.source) {
		return l.readLocal(l.source)
	}

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.source, nil)
	if err != nil {
		return nil, errors.NewDataUnavailableError(l.source, "invalid URL", err)
	}
	req.Header.Set(headers.Accept, "text/csv, text/plain;q=0.9, */*;q=0.1")
	req.Header.Set(headers.UserAgent, "winequality/1.0")

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, errors.NewDataUnavailableError(l.source, "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errors.NewDataUnavailableError(l.source,
			fmt.Sprintf("unexpected status %d", resp.StatusCode), nil)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, l.maxBody+1))
	if err != nil {
		return nil, errors.NewDataUnavailableError(l.source, "reading response body", err)
	}
	if int64(len(raw)) > l.maxBody {
		return nil, errors.NewDataUnavailableError(l.source,
			fmt.Sprintf("response body exceeds %d bytes", l.maxBody), nil)
	}
	return raw, nil
}

func (l *Loader) readLocal(source string) ([]byte, error) {
	path := source
	if strings.HasPrefix(source, "file://") {
		u, err := url.Parse(source)
		if err != nil {
			return nil, errors.NewDataUnavailableError(source, "invalid file URL", err)
		}
		path = u.Path
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewDataUnavailableError(source, "reading file", err)
	}
	return raw, nil
}

func (l *Loader) loadCache() (*Table, error) {
	raw, err := l.readLocal(l.cachePath)
	if err != nil {
		return nil, err
	}
	return ReadCSV(bytes.NewReader(raw), l.sep)
}

func isRemote(source string) bool {
	return strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://")
}

// writeFileAtomic writes data next to path and renames it into place.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "create cache directory")
	}
	f, err := os.CreateTemp(dir, ".dataset-*")
	if err != nil {
		return errors.Wrap(err, "create temp file")
	}
	tmp := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return errors.Wrap(err, "write temp file")
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return errors.Wrap(err, "close temp file")
	}
	return errors.WithStack(os.Rename(tmp, path))
}
