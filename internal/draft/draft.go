// Package draft persists the unsent composer text for a profile.
package draft

import (
	"github.com/matheus3301/chatsync/internal/store"
)

// StorageKey is the KV key holding the draft.
const StorageKey = "chat-draft"

// Keeper reads and writes the draft. It is the only writer of StorageKey.
type Keeper struct {
	kv store.KV
}

// NewKeeper returns a Keeper backed by kv.
func NewKeeper(kv store.KV) *Keeper {
	return &Keeper{kv: kv}
}

// Save stores text. Empty text clears the draft.
func (k *Keeper) Save(text string) {
	if text == "" {
		k.kv.Remove(StorageKey)
		return
	}
	k.kv.Set(StorageKey, text)
}

// Load returns the saved draft, or "" if none.
func (k *Keeper) Load() string {
	v, _ := k.kv.Get(StorageKey)
	return v
}

// Clear removes the saved draft.
func (k *Keeper) Clear() {
	k.kv.Remove(StorageKey)
}
