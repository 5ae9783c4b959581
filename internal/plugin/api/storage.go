package api

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/boltdb/bolt"
	"github.com/rs/zerolog"

	"github.com/dshills/plughost/internal/plugin/script"
)

// StorageFileName is the database file inside a plugin config directory.
const StorageFileName = "storage.db"

var (
	bucketStorage = []byte("storage")
	keyPattern    = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)
)

// ValidKey reports whether key may be used with Storage.
func ValidKey(key string) bool {
	return keyPattern.MatchString(key)
}

// Storage is a per-plugin, per-profile key/value store. Values are JSON
// encoded in a bolt database opened on first use. Failures are reported
// as false results, never as script exceptions.
type Storage struct {
	mu     sync.Mutex
	path   string
	db     *bolt.DB
	closed bool
	log    zerolog.Logger
}

// NewStorage creates a storage capability backed by dir/storage.db.
func NewStorage(dir string, log zerolog.Logger) *Storage {
	return &Storage{
		path: filepath.Join(dir, StorageFileName),
		log:  log,
	}
}

// Path returns the database path.
func (s *Storage) Path() string {
	return s.path
}

func (s *Storage) open() (*bolt.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, fmt.Errorf("storage closed")
	}
	if s.db != nil {
		return s.db, nil
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}
	db, err := bolt.Open(s.path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketStorage)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}
	s.db = db
	return db, nil
}

// Save stores value under key. Invalid keys and unencodable values
// return false.
func (s *Storage) Save(key string, value any) bool {
	if !ValidKey(key) {
		return false
	}
	data, err := json.Marshal(value)
	if err != nil {
		s.log.Debug().Err(err).Str("key", key).Msg("Storage value not encodable")
		return false
	}
	db, err := s.open()
	if err != nil {
		s.log.Warn().Err(err).Msg("Storage unavailable")
		return false
	}
	err = db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketStorage).Put([]byte(key), data)
	})
	if err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("Storage save failed")
		return false
	}
	return true
}

// Load returns the value saved under key.
func (s *Storage) Load(key string) (any, bool) {
	if !ValidKey(key) {
		return nil, false
	}
	db, err := s.open()
	if err != nil {
		return nil, false
	}

	var data []byte
	_ = db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucketStorage).Get([]byte(key)); v != nil {
			data = append([]byte(nil), v...)
		}
		return nil
	})
	if data == nil {
		return nil, false
	}

	var value any
	if err := json.Unmarshal(data, &value); err != nil {
		return nil, false
	}
	return value, true
}

// Delete removes key. Deleting a missing key succeeds.
func (s *Storage) Delete(key string) bool {
	if !ValidKey(key) {
		return false
	}
	db, err := s.open()
	if err != nil {
		return false
	}
	err = db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketStorage).Delete([]byte(key))
	})
	return err == nil
}

// Exists reports whether key holds a value.
func (s *Storage) Exists(key string) bool {
	_, ok := s.Load(key)
	return ok
}

// List returns the saved keys in sorted order.
func (s *Storage) List() []string {
	db, err := s.open()
	if err != nil {
		return nil
	}
	keys := []string{}
	_ = db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketStorage).ForEach(func(k, _ []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	return keys
}

// Close closes the database if it was opened.
func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *Storage) namespace() script.Object {
	return script.Object{
		"save": script.Func(func(_ context.Context, args []any) (any, error) {
			return s.Save(script.StringArg(args, 0, ""), script.Arg(args, 1)), nil
		}),
		"load": script.Func(func(_ context.Context, args []any) (any, error) {
			v, ok := s.Load(script.StringArg(args, 0, ""))
			if !ok {
				return script.Arg(args, 1), nil
			}
			return v, nil
		}),
		"delete": script.Func(func(_ context.Context, args []any) (any, error) {
			return s.Delete(script.StringArg(args, 0, "")), nil
		}),
		"exists": script.Func(func(_ context.Context, args []any) (any, error) {
			return s.Exists(script.StringArg(args, 0, "")), nil
		}),
		"list": script.Func(func(context.Context, []any) (any, error) {
			return toAnySlice(s.List()), nil
		}),
	}
}
