package kvstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
)

// LevelDB persists values on disk. It is the durable option for single-process
// deployments that should keep a session across restarts without Redis.
type LevelDB struct {
	db *leveldb.DB
}

// OpenLevelDB opens (or creates) a database at path.
func OpenLevelDB(path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return &LevelDB{db: db}, nil
}

// OpenLevelDBStorage opens a database on an arbitrary goleveldb storage, such as
// storage.NewMemStorage in tests.
func OpenLevelDBStorage(stor storage.Storage) (*LevelDB, error) {
	db, err := leveldb.Open(stor, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return &LevelDB{db: db}, nil
}

func (l *LevelDB) Get(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	v, err := l.db.Get([]byte(key), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return string(v), nil
}

func (l *LevelDB) Set(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := l.db.Put([]byte(key), []byte(value), &opt.WriteOptions{Sync: true}); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (l *LevelDB) Remove(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := l.db.Delete([]byte(key), &opt.WriteOptions{Sync: true}); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Close releases the underlying database.
func (l *LevelDB) Close() error {
	return l.db.Close()
}
