// Package store keeps named WebAssembly modules in a badger database.
//
// Binaries are stored once per content key, so registering the same module
// under several names costs one copy and one compilation. The key matches
// cache.ContentKey, which lets runtime.Engine.CompileStored share cache
// entries with modules compiled from raw bytes.
package store

import (
	"encoding/json"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-bridge/cache"
	"github.com/wippyai/wasm-bridge/errors"
	"github.com/wippyai/wasm-bridge/wasm"
)

const (
	recordPrefix = "mod/"
	binaryPrefix = "bin/"
)

// Record describes one named module.
type Record struct {
	Name    string    `json:"name"`
	Key     string    `json:"key"`
	Size    int       `json:"size"`
	AddedAt time.Time `json:"added_at"`
}

type Options struct {
	// Logger receives store events and badger's own output. Nil discards.
	Logger *zap.Logger
	// InMemory keeps the database in memory; path is ignored.
	InMemory bool
}

// BadgerStore is safe for concurrent use.
type BadgerStore struct {
	db  *badger.DB
	log *zap.Logger
}

// Open opens or creates the database at path.
func Open(path string, opts Options) (*BadgerStore, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("store")

	bopts := badger.DefaultOptions(path)
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	}
	bopts.Logger = badgerLogger{log.WithOptions(zap.IncreaseLevel(zap.WarnLevel)).Sugar()}

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseStore, errors.KindInvalidData, err, "open module store")
	}
	log.Info("module store opened", zap.String("path", path), zap.Bool("in_memory", opts.InMemory))
	return &BadgerStore{db: db, log: log}, nil
}

// Put registers wasm under name, replacing any previous module of that
// name. The binary must be structurally valid.
func (s *BadgerStore) Put(name string, bin []byte) (Record, error) {
	if name == "" {
		return Record{}, errors.InvalidInput(errors.PhaseStore, "module name is empty")
	}
	if _, err := wasm.SplitSections(bin); err != nil {
		return Record{}, errors.Wrap(errors.PhaseStore, errors.KindInvalidData, err, "module "+name)
	}

	rec := Record{
		Name:    name,
		Key:     cache.ContentKey(bin),
		Size:    len(bin),
		AddedAt: time.Now().UTC(),
	}
	val, err := json.Marshal(rec)
	if err != nil {
		return Record{}, errors.Wrap(errors.PhaseStore, errors.KindInvalidData, err, "encode record")
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		old, err := getRecord(txn, name)
		if err != nil && !errors.IsKind(err, errors.KindNotFound) {
			return err
		}
		if err := txn.Set(binaryKey(rec.Key), bin); err != nil {
			return err
		}
		if err := txn.Set(recordKey(name), val); err != nil {
			return err
		}
		if old != nil && old.Key != rec.Key {
			return dropUnreferenced(txn, old.Key)
		}
		return nil
	})
	if err != nil {
		return Record{}, storeError("put "+name, err)
	}
	s.log.Debug("module stored", zap.String("name", name), zap.String("key", rec.Key), zap.Int("size", rec.Size))
	return rec, nil
}

// Get returns the record and binary registered under name.
func (s *BadgerStore) Get(name string) (Record, []byte, error) {
	var (
		rec *Record
		bin []byte
	)
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		rec, err = getRecord(txn, name)
		if err != nil {
			return err
		}
		item, err := txn.Get(binaryKey(rec.Key))
		if err == badger.ErrKeyNotFound {
			return errors.New(errors.PhaseStore, errors.KindInvalidData).
				Detail("module %q references missing binary %s", name, rec.Key).Build()
		}
		if err != nil {
			return err
		}
		bin, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return Record{}, nil, storeError("get "+name, err)
	}
	return *rec, bin, nil
}

// Load returns the content key and binary registered under name. It
// satisfies runtime.Store.
func (s *BadgerStore) Load(name string) (string, []byte, error) {
	rec, bin, err := s.Get(name)
	if err != nil {
		return "", nil, err
	}
	return rec.Key, bin, nil
}

// Delete removes name. The binary goes too unless another name shares it.
func (s *BadgerStore) Delete(name string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		rec, err := getRecord(txn, name)
		if err != nil {
			return err
		}
		if err := txn.Delete(recordKey(name)); err != nil {
			return err
		}
		return dropUnreferenced(txn, rec.Key)
	})
	if err != nil {
		return storeError("delete "+name, err)
	}
	s.log.Debug("module deleted", zap.String("name", name))
	return nil
}

// List returns every record, ordered by name.
func (s *BadgerStore) List() ([]Record, error) {
	var recs []Record
	err := s.db.View(func(txn *badger.Txn) error {
		return eachRecord(txn, func(r Record) error {
			recs = append(recs, r)
			return nil
		})
	})
	if err != nil {
		return nil, storeError("list", err)
	}
	return recs, nil
}

func (s *BadgerStore) Close() error {
	if err := s.db.Close(); err != nil {
		return errors.Wrap(errors.PhaseStore, errors.KindInvalidData, err, "close module store")
	}
	s.log.Info("module store closed")
	return nil
}

func recordKey(name string) []byte { return []byte(recordPrefix + name) }

func binaryKey(key string) []byte { return []byte(binaryPrefix + key) }

func getRecord(txn *badger.Txn, name string) (*Record, error) {
	item, err := txn.Get(recordKey(name))
	if err == badger.ErrKeyNotFound {
		return nil, errors.NotFound(errors.PhaseStore, "module", name)
	}
	if err != nil {
		return nil, err
	}
	var rec Record
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &rec)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func eachRecord(txn *badger.Txn, fn func(Record) error) error {
	it := txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()

	prefix := []byte(recordPrefix)
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		var rec Record
		err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
		if err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

// dropUnreferenced deletes the binary for key when no record points at it.
func dropUnreferenced(txn *badger.Txn, key string) error {
	errReferenced := errors.New(errors.PhaseStore, errors.KindInvalidInput).Build()
	err := eachRecord(txn, func(r Record) error {
		if r.Key == key {
			return errReferenced
		}
		return nil
	})
	if err == errReferenced {
		return nil
	}
	if err != nil {
		return err
	}
	return txn.Delete(binaryKey(key))
}

func storeError(op string, err error) error {
	if _, ok := errors.KindOf(err); ok {
		return err
	}
	return errors.Wrap(errors.PhaseStore, errors.KindInvalidData, err, op)
}

// badgerLogger routes badger's log output through zap.
type badgerLogger struct {
	*zap.SugaredLogger
}

func (l badgerLogger) Warningf(format string, args ...any) {
	l.Warnf(format, args...)
}
