package acquire

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/renameio/v2"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog/log"

	"github.com/cyber-nic/rm-watermarks-video/internal/metrics"
)

var (
	// ErrSourceNotFound is returned for a missing local input.
	ErrSourceNotFound = errors.New("source not found")
	// ErrEmptyDownload is returned when a download completes with zero bytes.
	ErrEmptyDownload = errors.New("empty download")
	// ErrUnsupportedScheme is returned for URLs no fetcher handles.
	ErrUnsupportedScheme = errors.New("unsupported scheme")
)

// DefaultMaxTries bounds download attempts.
const DefaultMaxTries = 3

// Fetcher streams the content behind a URL into w.
type Fetcher interface {
	Fetch(ctx context.Context, src string, w io.Writer) (int64, error)
}

// Source is an acquired input file.
type Source struct {
	Path     string
	URL      string
	Hash     string
	CacheHit bool
	Local    bool
}

// Options configures an Acquirer.
type Options struct {
	Store *CacheStore
	// Fetchers by URL scheme; "http" and "https" default to HTTPFetcher.
	Fetchers map[string]Fetcher
	MaxTries uint
	BackOff  backoff.BackOff
}

// Acquirer resolves local paths and downloads remote sources once.
type Acquirer struct {
	store    *CacheStore
	fetchers map[string]Fetcher
	maxTries uint
	backOff  func() backoff.BackOff
}

func New(opts Options) (*Acquirer, error) {
	if opts.Store == nil {
		return nil, errors.New("cache store required")
	}
	fetchers := map[string]Fetcher{}
	for k, v := range opts.Fetchers {
		fetchers[k] = v
	}
	if _, ok := fetchers["http"]; !ok {
		fetchers["http"] = HTTPFetcher{}
	}
	if _, ok := fetchers["https"]; !ok {
		fetchers["https"] = fetchers["http"]
	}
	if opts.MaxTries == 0 {
		opts.MaxTries = DefaultMaxTries
	}

	a := &Acquirer{store: opts.Store, fetchers: fetchers, maxTries: opts.MaxTries}
	if opts.BackOff != nil {
		b := opts.BackOff
		a.backOff = func() backoff.BackOff { return b }
	} else {
		a.backOff = func() backoff.BackOff { return backoff.NewExponentialBackOff() }
	}
	return a, nil
}

// IsRemote reports whether src is a URL rather than a local path.
func IsRemote(src string) bool {
	u, err := url.Parse(src)
	if err != nil || u.Host == "" {
		return false
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https", "s3":
		return true
	}
	return false
}

// Acquire returns a local file for src. Remote sources are looked up in the
// cache by URL hash and downloaded only on a miss.
func (a *Acquirer) Acquire(ctx context.Context, src string) (Source, error) {
	if !IsRemote(src) {
		info, err := os.Stat(src)
		if err != nil {
			return Source{}, fmt.Errorf("%w: %s", ErrSourceNotFound, src)
		}
		if info.IsDir() {
			return Source{}, fmt.Errorf("%w: %s is a directory", ErrSourceNotFound, src)
		}
		metrics.RecordDownload("local")
		return Source{Path: src, Local: true}, nil
	}

	hash := URLHash(src)
	if p, ok, err := a.store.Lookup(hash); err != nil {
		return Source{}, err
	} else if ok {
		log.Info().Str("url", src).Str("hash", hash).Str("path", p).Msg("cache hit")
		metrics.RecordDownload("hit")
		return Source{Path: p, URL: src, Hash: hash, CacheHit: true}, nil
	}

	u, _ := url.Parse(src)
	fetcher, ok := a.fetchers[strings.ToLower(u.Scheme)]
	if !ok {
		return Source{}, fmt.Errorf("%w: %s", ErrUnsupportedScheme, u.Scheme)
	}

	name := cacheName(hash, u)
	dst := a.store.Path(name)
	start := time.Now()

	n, err := backoff.Retry(ctx, func() (int64, error) {
		n, err := download(ctx, fetcher, src, dst)
		if err != nil {
			log.Warn().Err(err).Str("url", src).Msg("download attempt failed")
		}
		return n, err
	}, backoff.WithBackOff(a.backOff()), backoff.WithMaxTries(a.maxTries))
	if err != nil {
		return Source{}, fmt.Errorf("download %s: %w", src, err)
	}

	if err := a.store.Record(hash, name); err != nil {
		return Source{}, err
	}
	metrics.RecordDownload("miss")
	log.Info().
		Int64("duration(ms)", time.Since(start).Milliseconds()).
		Int64("bytes", n).
		Str("hash", hash).
		Msg(name)
	return Source{Path: dst, URL: src, Hash: hash}, nil
}

func download(ctx context.Context, f Fetcher, src, dst string) (int64, error) {
	pending, err := renameio.NewPendingFile(dst)
	if err != nil {
		return 0, backoff.Permanent(fmt.Errorf("create pending file: %w", err))
	}
	defer pending.Cleanup()

	n, err := f.Fetch(ctx, src, pending)
	if err != nil {
		return n, err
	}
	if n == 0 {
		return 0, backoff.Permanent(ErrEmptyDownload)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return n, fmt.Errorf("atomically replace download: %w", err)
	}
	return n, nil
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// cacheName is "<hash>_<base>" with the URL's base name sanitized.
func cacheName(hash string, u *url.URL) string {
	base := unsafeName.ReplaceAllString(path.Base(u.Path), "_")
	if base == "" || base == "." || base == "_" || base == "/" {
		base = "source.mp4"
	}
	if path.Ext(base) == "" {
		base += ".mp4"
	}
	return hash + "_" + base
}

// HTTPFetcher downloads over HTTP(S). 4xx responses are not retried.
type HTTPFetcher struct {
	Client *http.Client
}

func (h HTTPFetcher) Fetch(ctx context.Context, src string, w io.Writer) (int64, error) {
	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return 0, backoff.Permanent(err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("unexpected status %s", resp.Status)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return 0, backoff.Permanent(err)
		}
		return 0, err
	}
	return io.Copy(w, resp.Body)
}

// S3Config holds object storage credentials for s3:// sources.
type S3Config struct {
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Region          string `yaml:"region"`
	UseSSL          bool   `yaml:"use_ssl"`
}

// S3Fetcher downloads s3://bucket/key objects.
type S3Fetcher struct {
	client *minio.Client
}

// NewS3Fetcher creates a new storage client
func NewS3Fetcher(cfg S3Config) (*S3Fetcher, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return &S3Fetcher{client: client}, nil
}

func (s *S3Fetcher) Fetch(ctx context.Context, src string, w io.Writer) (int64, error) {
	bucket, key, err := ParseS3URL(src)
	if err != nil {
		return 0, backoff.Permanent(err)
	}
	obj, err := s.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return 0, fmt.Errorf("failed to download object: %w", err)
	}
	defer obj.Close()

	n, err := io.Copy(w, obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return n, backoff.Permanent(err)
		}
		return n, err
	}
	return n, nil
}

// ParseS3URL splits s3://bucket/key.
func ParseS3URL(src string) (bucket, key string, err error) {
	u, err := url.Parse(src)
	if err != nil {
		return "", "", err
	}
	if u.Scheme != "s3" || u.Host == "" {
		return "", "", fmt.Errorf("invalid s3 url %q", src)
	}
	key = strings.TrimPrefix(u.Path, "/")
	if key == "" {
		return "", "", fmt.Errorf("missing object key in %q", src)
	}
	return u.Host, key, nil
}
