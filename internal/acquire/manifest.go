package acquire

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
	"github.com/google/renameio/v2"
)

// ManifestFile is the name of the manifest inside the cache directory.
const ManifestFile = "manifest.json"

// Manifest maps a URL hash to the cached file name.
type Manifest map[string]string

// URLHash is the first 12 hex characters of the MD5 digest of u.
func URLHash(u string) string {
	sum := md5.Sum([]byte(u))
	return hex.EncodeToString(sum[:])[:12]
}

// CacheStore owns the download cache directory and its manifest. Writes hold
// an exclusive lock on manifest.json.lock while they re-read, merge and
// atomically replace the manifest, so stores and processes sharing a
// directory only ever add entries.
type CacheStore struct {
	dir string
	mu  sync.Mutex
}

// NewCacheStore creates the cache directory if needed.
func NewCacheStore(dir string) (*CacheStore, error) {
	if dir == "" {
		return nil, errors.New("cache dir required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &CacheStore{dir: dir}, nil
}

// Dir returns the cache directory.
func (s *CacheStore) Dir() string { return s.dir }

// Path returns the absolute path of a cached file name.
func (s *CacheStore) Path(name string) string { return filepath.Join(s.dir, name) }

func (s *CacheStore) manifestPath() string { return filepath.Join(s.dir, ManifestFile) }

func (s *CacheStore) lockPath() string { return s.manifestPath() + ".lock" }

// Load reads the manifest; a missing file is an empty manifest.
func (s *CacheStore) Load() (Manifest, error) {
	data, err := os.ReadFile(s.manifestPath())
	if errors.Is(err, fs.ErrNotExist) {
		return Manifest{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	m := Manifest{}
	if len(data) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	return m, nil
}

// Lookup returns the cached file for hash if the manifest has an entry and
// the file is still present and non-empty.
func (s *CacheStore) Lookup(hash string) (string, bool, error) {
	m, err := s.Load()
	if err != nil {
		return "", false, err
	}
	name, ok := m[hash]
	if !ok {
		return "", false, nil
	}
	path := s.Path(name)
	info, err := os.Stat(path)
	if err != nil || info.Size() == 0 {
		return "", false, nil
	}
	return path, true, nil
}

// Record adds hash -> name to the manifest.
func (s *CacheStore) Record(hash, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock := flock.New(s.lockPath())
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("lock manifest: %w", err)
	}
	defer lock.Unlock()

	m, err := s.Load()
	if err != nil {
		return err
	}
	if m[hash] == name {
		return nil
	}
	m[hash] = name

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := renameio.WriteFile(s.manifestPath(), data, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}
