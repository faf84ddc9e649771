// internal/storage/badger.go
package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cinematic-site/cinematic-go/internal/model"
	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
)

// Key prefixes for BadgerDB storage
const (
	movieKeyPrefix = "movie:"
	siteKeyPrefix  = "site:"
	lastUpdateKey  = "meta:lastUpdate"
)

// maxTxnRetries bounds retries of read-modify-write transactions on conflict.
const maxTxnRetries = 5

// badgerStore implements the Store interface on an embedded BadgerDB.
// Read-modify-write operations run inside one transaction and are serialized
// by writeMu, so writers within the process never conflict with each other.
type badgerStore struct {
	db      *badger.DB
	writeMu sync.Mutex // Serializes read-write transactions
}

// NewBadger opens (or creates) a Badger store in dir.
// An empty dir opens an in-memory database, used by tests.
func NewBadger(dir string) (Store, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &badgerStore{db: db}, nil
}

// movieKey zero-pads ids so key order matches numeric order.
func movieKey(id int64) []byte {
	return []byte(fmt.Sprintf("%s%020d", movieKeyPrefix, id))
}

func siteKey(id string) []byte {
	return []byte(siteKeyPrefix + id)
}

// update runs fn in a read-write transaction, one at a time. Conflicts can
// still come from badger internals, so they are retried.
func (b *badgerStore) update(fn func(txn *badger.Txn) error) error {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	var err error
	for i := 0; i < maxTxnRetries; i++ {
		err = b.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

func getJSON(txn *badger.Txn, key []byte, v interface{}) error {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func setJSON(txn *badger.Txn, key []byte, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return txn.Set(key, data)
}

func touchLastUpdate(txn *badger.Txn) error {
	return setJSON(txn, []byte(lastUpdateKey), time.Now().UTC())
}

func (b *badgerStore) GetMovie(ctx context.Context, id int64) (model.Movie, error) {
	var movie model.Movie
	err := b.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, movieKey(id), &movie)
	})
	if err != nil {
		return model.Movie{}, err
	}
	return movie, nil
}

func (b *badgerStore) PutMovie(ctx context.Context, movie model.Movie) error {
	return b.update(func(txn *badger.Txn) error {
		if err := setJSON(txn, movieKey(movie.ID), movie); err != nil {
			return err
		}
		return touchLastUpdate(txn)
	})
}

func (b *badgerStore) PutMoviesIfAbsent(ctx context.Context, movies []model.Movie) (int, error) {
	var inserted int
	err := b.update(func(txn *badger.Txn) error {
		inserted = 0
		for _, movie := range movies {
			key := movieKey(movie.ID)
			_, err := txn.Get(key)
			if err == nil {
				continue
			}
			if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
			if err := setJSON(txn, key, movie); err != nil {
				return err
			}
			inserted++
		}
		if inserted == 0 {
			return nil
		}
		return touchLastUpdate(txn)
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

func (b *badgerStore) ListMovies(ctx context.Context) ([]model.Movie, error) {
	var out []model.Movie
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(movieKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var movie model.Movie
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &movie)
			}); err != nil {
				return err
			}
			out = append(out, movie)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (b *badgerStore) MovieStats(ctx context.Context) (model.CacheStats, error) {
	var stats model.CacheStats
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(movieKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			stats.TotalMovies++
		}

		var last time.Time
		switch err := getJSON(txn, []byte(lastUpdateKey), &last); {
		case err == nil:
			stats.LastUpdate = &last
		case !errors.Is(err, ErrNotFound):
			return err
		}
		return nil
	})
	return stats, err
}

func (b *badgerStore) ResetMovies(ctx context.Context) error {
	if err := b.db.DropPrefix([]byte(movieKeyPrefix)); err != nil {
		return fmt.Errorf("drop movies: %w", err)
	}
	return b.update(touchLastUpdate)
}

func (b *badgerStore) CreateSite(ctx context.Context, site model.Site) error {
	return b.update(func(txn *badger.Txn) error {
		key := siteKey(site.SiteID)
		if _, err := txn.Get(key); err == nil {
			return ErrConflict
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return setJSON(txn, key, site)
	})
}

func (b *badgerStore) GetSite(ctx context.Context, siteID string) (model.Site, error) {
	var site model.Site
	err := b.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, siteKey(siteID), &site)
	})
	if err != nil {
		return model.Site{}, err
	}
	return site, nil
}

func (b *badgerStore) ListSites(ctx context.Context) ([]model.Site, error) {
	var out []model.Site
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(siteKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var site model.Site
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &site)
			}); err != nil {
				return err
			}
			out = append(out, site)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortSites(out)
	return out, nil
}

func (b *badgerStore) DeleteSite(ctx context.Context, siteID string) error {
	return b.update(func(txn *badger.Txn) error {
		key := siteKey(siteID)
		if _, err := txn.Get(key); errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		} else if err != nil {
			return err
		}
		return txn.Delete(key)
	})
}

func (b *badgerStore) UpdateSite(ctx context.Context, siteID string, fn func(*model.Site) error) (model.Site, error) {
	var site model.Site
	err := b.update(func(txn *badger.Txn) error {
		site = model.Site{}
		key := siteKey(siteID)
		if err := getJSON(txn, key, &site); err != nil {
			return err
		}
		if err := fn(&site); err != nil {
			return err
		}
		return setJSON(txn, key, site)
	})
	if err != nil {
		return model.Site{}, err
	}
	return site, nil
}

func (b *badgerStore) UpdateSites(ctx context.Context, fn func(*model.Site) bool) ([]model.Site, error) {
	var changed []model.Site
	err := b.update(func(txn *badger.Txn) error {
		changed = nil
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		var pending []model.Site

		prefix := []byte(siteKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var site model.Site
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &site)
			}); err != nil {
				it.Close()
				return err
			}
			if fn(&site) {
				pending = append(pending, site)
			}
		}
		it.Close()

		for _, site := range pending {
			if err := setJSON(txn, siteKey(site.SiteID), site); err != nil {
				return err
			}
		}
		changed = pending
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortSites(changed)
	return changed, nil
}

func (b *badgerStore) Ping(ctx context.Context) error {
	if b.db.IsClosed() {
		return errors.New("badger is closed")
	}
	return nil
}

func (b *badgerStore) Close() error {
	return b.db.Close()
}
