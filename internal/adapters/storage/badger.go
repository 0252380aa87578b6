package storage

// badger.go: bot configuration store. One key per bot ("bot/<id>") holding
// the JSON encoded identity plus status snapshot.

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/alejandrodnm/botfleet/internal/domain"
)

const botKeyPrefix = "bot/"

// BadgerOptions configures the bot configuration store.
type BadgerOptions struct {
	Path          string
	InMemory      bool   // tests; Path is ignored
	EncryptionKey []byte // 16, 24 or 32 bytes; nil disables encryption at rest
}

// BadgerConfigStore implements ports.BotConfigStore on Badger.
type BadgerConfigStore struct {
	db *badger.DB
}

// OpenBadgerConfigStore opens (or creates) the store.
func OpenBadgerConfigStore(opts BadgerOptions) (*BadgerConfigStore, error) {
	var bopts badger.Options
	switch {
	case opts.InMemory:
		bopts = badger.DefaultOptions("").WithInMemory(true)
	case strings.TrimSpace(opts.Path) == "":
		return nil, errors.New("storage.OpenBadgerConfigStore: path is required")
	default:
		bopts = badger.DefaultOptions(opts.Path)
	}
	bopts = bopts.WithLogger(nil)
	if len(opts.EncryptionKey) > 0 {
		bopts = bopts.
			WithEncryptionKey(opts.EncryptionKey).
			WithIndexCacheSize(100 << 20)
	}

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("storage.OpenBadgerConfigStore: %w", err)
	}
	return &BadgerConfigStore{db: db}, nil
}

// Close closes the store.
func (s *BadgerConfigStore) Close() error {
	return s.db.Close()
}

// LoadAll returns every stored bot keyed by id.
func (s *BadgerConfigStore) LoadAll(_ context.Context) (map[string]domain.BotRecord, error) {
	out := make(map[string]domain.BotRecord)
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: true, PrefetchSize: 32, Prefix: []byte(botKeyPrefix)})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			var rec domain.BotRecord
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return fmt.Errorf("decode %s: %w", item.Key(), err)
			}
			id := strings.TrimPrefix(string(item.Key()), botKeyPrefix)
			rec.Identity.ID = id
			out[id] = rec
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("storage.LoadAll: %w", err)
	}
	return out, nil
}

// SaveAll writes every record in a single batch.
func (s *BadgerConfigStore) SaveAll(_ context.Context, records map[string]domain.BotRecord) error {
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for id, rec := range records {
		rec.Identity.ID = id
		val, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("storage.SaveAll: encode %s: %w", id, err)
		}
		if err := wb.Set(botKey(id), val); err != nil {
			return fmt.Errorf("storage.SaveAll: set %s: %w", id, err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("storage.SaveAll: flush: %w", err)
	}
	return nil
}

// Save writes one record.
func (s *BadgerConfigStore) Save(_ context.Context, rec domain.BotRecord) error {
	if rec.Identity.ID == "" {
		return errors.New("storage.Save: bot id is empty")
	}
	val, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("storage.Save: encode %s: %w", rec.Identity.ID, err)
	}
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(botKey(rec.Identity.ID), val)
	}); err != nil {
		return fmt.Errorf("storage.Save: %w", err)
	}
	return nil
}

// Load returns one record.
func (s *BadgerConfigStore) Load(_ context.Context, botID string) (domain.BotRecord, error) {
	var rec domain.BotRecord
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(botKey(botID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return domain.BotRecord{}, &domain.NotFoundError{Kind: "bot", ID: botID}
	}
	if err != nil {
		return domain.BotRecord{}, fmt.Errorf("storage.Load: %w", err)
	}
	rec.Identity.ID = botID
	return rec, nil
}

// Delete removes one record. Deleting a missing bot is not an error.
func (s *BadgerConfigStore) Delete(_ context.Context, botID string) error {
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(botKey(botID))
	}); err != nil {
		return fmt.Errorf("storage.Delete: %w", err)
	}
	return nil
}

// Backup streams a full backup of the store to w.
func (s *BadgerConfigStore) Backup(_ context.Context, w io.Writer) error {
	if _, err := s.db.Backup(w, 0); err != nil {
		return fmt.Errorf("storage.Backup: %w", err)
	}
	return nil
}

// Restore loads a backup produced by Backup.
func (s *BadgerConfigStore) Restore(r io.Reader) error {
	if err := s.db.Load(r, 16); err != nil {
		return fmt.Errorf("storage.Restore: %w", err)
	}
	return nil
}

func botKey(id string) []byte {
	return []byte(botKeyPrefix + id)
}
