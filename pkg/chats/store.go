// Package chats persists chat metadata and registered chats, and answers
// chat discovery queries over them.
package chats

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cockroachdb/pebble"

	"signalclaw/pkg/channel"
	"signalclaw/pkg/logger"
)

const (
	chatKeyPrefix  = "chat:"
	groupKeyPrefix = "group:"

	// GroupSyncJID is a reserved record tracking the last group metadata sync.
	GroupSyncJID = "__group_sync__"
)

// ChatRecord is the stored metadata for one observed chat.
type ChatRecord struct {
	JID             string `json:"jid"`
	Name            string `json:"name,omitempty"`
	LastMessageTime string `json:"last_message_time"`
}

// Store keeps chat records and registered chats in a Pebble database.
type Store struct {
	db  *pebble.DB
	log *slog.Logger

	// serializes read-modify-write on chat records
	mu sync.Mutex
}

// Open opens (or creates) the store at path.
func Open(path string, log *slog.Logger) (*Store, error) {
	log = logger.Component(log, "chats.store")

	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open chat store at %s: %w", path, err)
	}
	log.Debug("Chat store opened", "path", path)

	return &Store{db: db, log: log}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close chat store: %w", err)
	}
	s.db = nil
	return nil
}

// StoreChatMetadata creates or refreshes the record for jid.
//
// The newest timestamp wins; an empty name keeps the stored one.
func (s *Store) StoreChatMetadata(jid string, timestamp string, name string) error {
	if jid == "" {
		return errors.New("chat jid is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := []byte(chatKeyPrefix + jid)
	record := ChatRecord{JID: jid}
	if _, err := s.getJSON(key, &record); err != nil {
		return fmt.Errorf("load chat %s: %w", jid, err)
	}

	if record.LastMessageTime == "" || compareTimestamps(timestamp, record.LastMessageTime) > 0 {
		record.LastMessageTime = timestamp
	}
	if name != "" {
		record.Name = name
	}

	if err := s.putJSON(key, record); err != nil {
		return fmt.Errorf("store chat %s: %w", jid, err)
	}
	return nil
}

// ListChats returns every stored chat record in key order.
func (s *Store) ListChats() ([]ChatRecord, error) {
	records := make([]ChatRecord, 0)
	err := s.scan(chatKeyPrefix, func(value []byte) error {
		var record ChatRecord
		if err := json.Unmarshal(value, &record); err != nil {
			return err
		}
		records = append(records, record)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}

	return records, nil
}

// SaveGroup persists a registered chat.
func (s *Store) SaveGroup(jid string, group channel.RegisteredGroup) error {
	if jid == "" {
		return errors.New("chat jid is required")
	}
	if err := s.putJSON([]byte(groupKeyPrefix+jid), group); err != nil {
		return fmt.Errorf("save group %s: %w", jid, err)
	}
	return nil
}

// DeleteGroup removes a registered chat. Missing chats are not an error.
func (s *Store) DeleteGroup(jid string) error {
	if err := s.db.Delete([]byte(groupKeyPrefix+jid), pebble.Sync); err != nil {
		return fmt.Errorf("delete group %s: %w", jid, err)
	}
	return nil
}

// ListGroups returns all registered chats keyed by JID.
func (s *Store) ListGroups() (map[string]channel.RegisteredGroup, error) {
	groups := make(map[string]channel.RegisteredGroup)
	err := s.scanKeys(groupKeyPrefix, func(key string, value []byte) error {
		var group channel.RegisteredGroup
		if err := json.Unmarshal(value, &group); err != nil {
			return err
		}
		groups[key[len(groupKeyPrefix):]] = group
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}

	return groups, nil
}

func (s *Store) getJSON(key []byte, target any) (bool, error) {
	value, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer closer.Close()

	if err := json.Unmarshal(value, target); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) putJSON(key []byte, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.db.Set(key, data, pebble.Sync)
}

func (s *Store) scan(prefix string, fn func(value []byte) error) error {
	return s.scanKeys(prefix, func(_ string, value []byte) error { return fn(value) })
}

func (s *Store) scanKeys(prefix string, fn func(key string, value []byte) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: prefixUpperBound([]byte(prefix)),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(string(iter.Key()), iter.Value()); err != nil {
			return err
		}
	}

	return iter.Error()
}

// prefixUpperBound returns the smallest key greater than every key with prefix.
func prefixUpperBound(prefix []byte) []byte {
	upper := append([]byte(nil), prefix...)
	for i := len(upper) - 1; i >= 0; i-- {
		upper[i]++
		if upper[i] != 0 {
			return upper[:i+1]
		}
	}
	return nil
}
