package registry

import (
	"fmt"

	"inferd/pkg/types"
)

// HubSource points at the files backing one model on the artifact hub.
type HubSource struct {
	// Hub repository id, e.g. "bartowski/Qwen2.5-1.5B-Instruct-GGUF".
	Repo string
	// Required artifact files, fetched in order. Includes the projector
	// file for vision models.
	Files []string
	// Name of the multimodal projector file within Files, empty for
	// text-only models.
	MMProj string
}

// Entry couples a catalog descriptor with its artifact source and
// template/stop-token metadata. The extra fields never take part in
// descriptor identity.
type Entry struct {
	types.ModelDescriptor
	Source HubSource
	// Default generation terminators for the model family.
	StopTokens []string
}

// Catalog is the static, read-only model table. Built once at process start;
// lookups are by unique descriptor name.
type Catalog struct {
	entries []Entry
	byName  map[string]int
}

// New builds a catalog from entries, rejecting duplicate or empty names.
func New(entries ...Entry) (*Catalog, error) {
	c := &Catalog{
		entries: make([]Entry, len(entries)),
		byName:  make(map[string]int, len(entries)),
	}
	copy(c.entries, entries)
	for i, e := range c.entries {
		if e.Name == "" {
			return nil, fmt.Errorf("catalog entry %d has empty name", i)
		}
		if _, dup := c.byName[e.Name]; dup {
			return nil, fmt.Errorf("duplicate catalog entry: %s", e.Name)
		}
		c.byName[e.Name] = i
	}
	return c, nil
}

// MustNew is New for known-good static tables; it panics on error.
func MustNew(entries ...Entry) *Catalog {
	c, err := New(entries...)
	if err != nil {
		panic(err)
	}
	return c
}

// Lookup returns the entry for name, if present.
func (c *Catalog) Lookup(name string) (Entry, bool) {
	i, ok := c.byName[name]
	if !ok {
		return Entry{}, false
	}
	return c.entries[i], true
}

// All returns the catalog descriptors in declaration order.
func (c *Catalog) All() []types.ModelDescriptor {
	out := make([]types.ModelDescriptor, len(c.entries))
	for i, e := range c.entries {
		out[i] = e.ModelDescriptor
	}
	return out
}

// Len reports the number of catalog entries.
func (c *Catalog) Len() int { return len(c.entries) }
