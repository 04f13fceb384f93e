package quiz

import (
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/caffeineduck/lessonbox/hostfunc"
)

// Store remembers which modules were completed on which day.
type Store interface {
	MarkCompleted(module string, day time.Time) error
	Completed(module string, day time.Time) (bool, error)
}

// CompletionKey is the key a completion is stored under. The date is the
// UTC calendar day.
func CompletionKey(module string, day time.Time) string {
	return "quiz_completed_" + module + "_" + day.UTC().Format("2006-01-02")
}

// MemoryStore keeps completions in a host key-value store, so lesson code
// with kv access can read them.
type MemoryStore struct {
	kv *hostfunc.KV
}

func NewMemoryStore(kv *hostfunc.KV) *MemoryStore {
	if kv == nil {
		kv = hostfunc.NewKV(hostfunc.DefaultKVConfig())
	}
	return &MemoryStore{kv: kv}
}

func (s *MemoryStore) MarkCompleted(module string, day time.Time) error {
	return s.kv.Store(CompletionKey(module, day), "true")
}

func (s *MemoryStore) Completed(module string, day time.Time) (bool, error) {
	v, ok := s.kv.Load(CompletionKey(module, day))
	return ok && v == "true", nil
}

var completionsBucket = []byte("completions")

// BoltStore persists completions in a bbolt file.
type BoltStore struct {
	db *bolt.DB
}

// OpenBoltStore opens or creates the store at path.
func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open completion store: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(completionsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init completion store: %w", err)
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) MarkCompleted(module string, day time.Time) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(completionsBucket).Put([]byte(CompletionKey(module, day)), []byte("true"))
	})
}

func (s *BoltStore) Completed(module string, day time.Time) (bool, error) {
	var done bool
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(completionsBucket)
		if b == nil {
			return errors.New("completion bucket missing")
		}
		done = string(b.Get([]byte(CompletionKey(module, day)))) == "true"
		return nil
	})
	return done, err
}

// Keys lists every stored completion key in order.
func (s *BoltStore) Keys() ([]string, error) {
	var keys []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(completionsBucket).ForEach(func(k, _ []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	return keys, err
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
