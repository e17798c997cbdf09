package kv

import (
	"bytes"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// LevelDBStore is a Store backed by github.com/syndtr/goleveldb, the
// embedded engine the teacher repo depends on directly (with its own
// replace to vechain/goleveldb) for every durable collection: peers,
// subscriptions, checkpoints, per-register transactions and dockets.
type LevelDBStore struct {
	db     *leveldb.DB
	prefix []byte
}

// OpenLevelDB opens (creating if absent) a LevelDB database at path.
func OpenLevelDB(path string) (*LevelDBStore, error) {
	db, err := leveldb.OpenFile(path, &opt.Options{})
	if err != nil {
		return nil, err
	}
	return &LevelDBStore{db: db}, nil
}

// NewNamespace returns a view of the same database scoped to keys under
// prefix, giving the physical per-register isolation spec §4.8 requires
// ("one storage namespace per register_id") without opening a new file
// handle per register.
func (s *LevelDBStore) NewNamespace(prefix string) *LevelDBStore {
	return &LevelDBStore{db: s.db, prefix: append(append([]byte{}, s.prefix...), []byte(prefix)...)}
}

// Close releases the underlying database handle.
func (s *LevelDBStore) Close() error {
	return s.db.Close()
}

func (s *LevelDBStore) key(k []byte) []byte {
	if len(s.prefix) == 0 {
		return k
	}
	out := make([]byte, 0, len(s.prefix)+len(k))
	out = append(out, s.prefix...)
	return append(out, k...)
}

func (s *LevelDBStore) Put(key, val []byte) error {
	return s.db.Put(s.key(key), val, nil)
}

func (s *LevelDBStore) Get(key []byte) ([]byte, error) {
	v, err := s.db.Get(s.key(key), nil)
	if err == leveldb.ErrNotFound {
		return nil, ErrNotFound
	}
	return v, err
}

func (s *LevelDBStore) Has(key []byte) (bool, error) {
	return s.db.Has(s.key(key), nil)
}

func (s *LevelDBStore) Delete(key []byte) error {
	return s.db.Delete(s.key(key), nil)
}

func (s *LevelDBStore) NewBatch() Batch {
	return &levelDBBatch{store: s, batch: new(leveldb.Batch)}
}

func (s *LevelDBStore) Iterate(r Range) Iterator {
	rng := util.BytesPrefix(s.key(r.Prefix))
	it := s.db.NewIterator(rng, nil)
	return &levelDBIterator{it: it, prefix: s.prefix}
}

type levelDBBatch struct {
	store *LevelDBStore
	batch *leveldb.Batch
	n     int
}

func (b *levelDBBatch) Put(key, val []byte) error {
	b.batch.Put(b.store.key(key), val)
	b.n++
	return nil
}

func (b *levelDBBatch) Delete(key []byte) error {
	b.batch.Delete(b.store.key(key))
	b.n++
	return nil
}

func (b *levelDBBatch) Write() error {
	return b.store.db.Write(b.batch, nil)
}

func (b *levelDBBatch) Len() int {
	return b.n
}

type levelDBIterator struct {
	it     iterator
	prefix []byte
}

// iterator narrows *leveldb/iterator.Iterator to what we consume, so tests
// can fake it if ever needed.
type iterator interface {
	Next() bool
	Key() []byte
	Value() []byte
	Release()
	Error() error
}

func (i *levelDBIterator) Next() bool { return i.it.Next() }
func (i *levelDBIterator) Key() []byte {
	k := i.it.Key()
	if len(i.prefix) == 0 {
		out := make([]byte, len(k))
		copy(out, k)
		return out
	}
	return bytes.TrimPrefix(append([]byte{}, k...), i.prefix)
}
func (i *levelDBIterator) Value() []byte {
	v := i.it.Value()
	out := make([]byte, len(v))
	copy(out, v)
	return out
}
func (i *levelDBIterator) Release()     { i.it.Release() }
func (i *levelDBIterator) Error() error { return i.it.Error() }
