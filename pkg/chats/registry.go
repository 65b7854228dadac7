package chats

import (
	"errors"
	"fmt"
	"maps"
	"strings"
	"sync"
	"time"

	"signalclaw/pkg/channel"
)

// GroupStore persists registered chats.
type GroupStore interface {
	SaveGroup(jid string, group channel.RegisteredGroup) error
	DeleteGroup(jid string) error
	ListGroups() (map[string]channel.RegisteredGroup, error)
}

// Registry is the live set of registered chats.
//
// Snapshot hands out copies, so adapters read a stable view while Register
// and Unregister take effect for the next event.
type Registry struct {
	store GroupStore

	mu     sync.RWMutex
	groups map[string]channel.RegisteredGroup
}

// NewRegistry loads registered chats from store.
func NewRegistry(store GroupStore) (*Registry, error) {
	if store == nil {
		return nil, errors.New("group store is required")
	}

	groups, err := store.ListGroups()
	if err != nil {
		return nil, fmt.Errorf("load registered groups: %w", err)
	}
	if groups == nil {
		groups = make(map[string]channel.RegisteredGroup)
	}

	return &Registry{store: store, groups: groups}, nil
}

// Snapshot returns a copy of the current registrations.
func (r *Registry) Snapshot() map[string]channel.RegisteredGroup {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return maps.Clone(r.groups)
}

// Register adds or replaces the registration for jid.
func (r *Registry) Register(jid string, group channel.RegisteredGroup) error {
	jid = strings.TrimSpace(jid)
	if jid == "" {
		return errors.New("chat jid is required")
	}
	if strings.TrimSpace(group.Folder) == "" {
		return errors.New("group folder is required")
	}
	if group.AddedAt == "" {
		group.AddedAt = time.Now().UTC().Format(time.RFC3339Nano)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.store.SaveGroup(jid, group); err != nil {
		return err
	}
	r.groups[jid] = group
	return nil
}

// Unregister drops the registration for jid.
func (r *Registry) Unregister(jid string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.store.DeleteGroup(jid); err != nil {
		return err
	}
	delete(r.groups, jid)
	return nil
}
