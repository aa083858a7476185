package license

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v2"
)

// RecordFormat is written into every record.
const RecordFormat = 1

// obfuscationMask keeps the key from being readable at a glance in the file.
// It protects nothing.
var obfuscationMask = []byte("SAKA-QMS/license")

// Record is the persisted activation.
type Record struct {
	Key         string    `yaml:"-"`
	Fingerprint string    `yaml:"fingerprint"`
	ActivatedAt time.Time `yaml:"activated_at"`
	Format      int       `yaml:"format"`
}

type recordFile struct {
	Key         string    `yaml:"key"`
	Fingerprint string    `yaml:"fingerprint"`
	ActivatedAt time.Time `yaml:"activated_at"`
	Format      int       `yaml:"format"`
}

// Store persists the license record.
type Store interface {
	Save(rec Record) error
	Load() (*Record, error)
	Path() string
}

// FileStore keeps the record in a single YAML file.
type FileStore struct {
	path string
}

// NewFileStore creates a store at path. Nothing is touched until Save.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the record location.
func (s *FileStore) Path() string { return s.path }

// Save writes rec atomically: a temp file in the same directory is renamed
// over the old record, so readers see the old or the new file, never half.
func (s *FileStore) Save(rec Record) error {
	if rec.Format == 0 {
		rec.Format = RecordFormat
	}
	if rec.ActivatedAt.IsZero() {
		rec.ActivatedAt = time.Now().UTC()
	}

	data, err := yaml.Marshal(recordFile{
		Key:         obfuscate(rec.Key),
		Fingerprint: rec.Fingerprint,
		ActivatedAt: rec.ActivatedAt,
		Format:      rec.Format,
	})
	if err != nil {
		return &StorageError{Op: "encode", Path: s.path, Err: err}
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return &StorageError{Op: "mkdir", Path: dir, Err: err}
	}

	tmp, err := os.CreateTemp(dir, ".license-*.tmp")
	if err != nil {
		return &StorageError{Op: "write", Path: s.path, Err: err}
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return &StorageError{Op: "write", Path: s.path, Err: err}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return &StorageError{Op: "sync", Path: s.path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &StorageError{Op: "write", Path: s.path, Err: err}
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return &StorageError{Op: "chmod", Path: s.path, Err: err}
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return &StorageError{Op: "rename", Path: s.path, Err: err}
	}
	return nil
}

// Load reads the record. An absent file is ErrLicenseNotFound; anything
// else that prevents reading it is a *StorageError.
func (s *FileStore) Load() (*Record, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrLicenseNotFound
		}
		return nil, &StorageError{Op: "read", Path: s.path, Err: err}
	}

	var file recordFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, &StorageError{Op: "decode", Path: s.path, Err: err}
	}
	if file.Key == "" {
		return nil, &StorageError{Op: "decode", Path: s.path, Err: errors.New("record has no key")}
	}

	key, err := deobfuscate(file.Key)
	if err != nil {
		return nil, &StorageError{Op: "decode", Path: s.path, Err: fmt.Errorf("key field: %w", err)}
	}

	return &Record{
		Key:         key,
		Fingerprint: file.Fingerprint,
		ActivatedAt: file.ActivatedAt,
		Format:      file.Format,
	}, nil
}

func obfuscate(key string) string {
	return base64.StdEncoding.EncodeToString(xorMask([]byte(key)))
}

func deobfuscate(s string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return "", err
	}
	return string(xorMask(raw)), nil
}

func xorMask(b []byte) []byte {
	out := make([]byte, len(b))
	for i := range b {
		out[i] = b[i] ^ obfuscationMask[i%len(obfuscationMask)]
	}
	return out
}
