// Package cache maintains an offline index over WEVT manifest templates:
// which template a given event renders with, and the raw template bytes for
// each template GUID, aggregated across any number of ingested manifests.
// The index can be persisted to a compact .wevtcache file and reloaded
// without the original binaries.
package cache

import (
	"fmt"
	"sync"

	"github.com/wevtflow/wevtflow/pkg/wevt"
)

// EventKey identifies an event definition across manifests. The provider
// GUID is stored in normalized form.
type EventKey struct {
	Provider string
	EventID  uint16
	Version  uint8
}

// TemplateCache is the aggregate index. Mutation (Ingest and the pipeline
// operations built on it) is a single-threaded, exclusive-owner affair;
// once built, the read operations are safe for concurrent use.
type TemplateCache struct {
	mu sync.RWMutex

	eventToTemplate map[EventKey]string
	tempsByGUID     map[string][]byte
	resources       [][]byte
	overwrites      int
}

// New creates an empty cache.
func New() *TemplateCache {
	return &TemplateCache{
		eventToTemplate: make(map[EventKey]string),
		tempsByGUID:     make(map[string][]byte),
	}
}

// Ingest parses one raw manifest blob and merges it into the index. It
// returns the number of templates indexed from this blob. Duplicate keys
// overwrite previous entries (last write wins). Ingest is transactional: a
// blob that fails to parse or validate leaves the cache untouched.
func (c *TemplateCache) Ingest(blob []byte) (int, error) {
	m, err := wevt.ParseManifest(blob)
	if err != nil {
		return 0, err
	}

	// Stage everything before touching the maps, so a bad blob cannot
	// leave partial state behind.
	type tempEntry struct {
		guid  string
		bytes []byte
	}
	var events []struct {
		key  EventKey
		guid string
	}
	var temps []tempEntry

	for _, p := range m.Providers() {
		for _, ev := range p.Events() {
			if !ev.HasTemplate() {
				continue
			}
			tpl, ok := p.TemplateByOffset(ev.TemplateOffset)
			if !ok {
				continue
			}
			events = append(events, struct {
				key  EventKey
				guid string
			}{
				key:  EventKey{Provider: p.GUID(), EventID: ev.ID, Version: ev.Version},
				guid: tpl.GUID,
			})
		}
		for _, tpl := range p.Templates() {
			raw, err := tpl.Bytes()
			if err != nil {
				return 0, fmt.Errorf("cache: template %s: %w", tpl.GUID, err)
			}
			temps = append(temps, tempEntry{guid: tpl.GUID, bytes: raw})
		}
	}

	resource := make([]byte, len(blob))
	copy(resource, blob)

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range events {
		if _, dup := c.eventToTemplate[e.key]; dup {
			c.overwrites++
		}
		c.eventToTemplate[e.key] = e.guid
	}
	for _, t := range temps {
		if _, dup := c.tempsByGUID[t.guid]; dup {
			c.overwrites++
		}
		c.tempsByGUID[t.guid] = t.bytes
	}
	c.resources = append(c.resources, resource)
	return len(temps), nil
}

// Resolve maps (provider GUID, event id, version) to a template GUID.
// The provider GUID is normalized before lookup; the match is exact.
func (c *TemplateCache) Resolve(providerGUID string, eventID uint16, version uint8) (string, error) {
	key := EventKey{Provider: wevt.NormalizeGUID(providerGUID), EventID: eventID, Version: version}

	c.mu.RLock()
	guid, ok := c.eventToTemplate[key]
	c.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: no template for provider=%s event_id=%d version=%d",
			ErrNotFound, providerGUID, eventID, version)
	}
	return guid, nil
}

// TemplateBytes returns a copy of the raw TEMP bytes stored under a
// template GUID.
func (c *TemplateCache) TemplateBytes(templateGUID string) ([]byte, error) {
	guid := wevt.NormalizeGUID(templateGUID)

	c.mu.RLock()
	raw, ok := c.tempsByGUID[guid]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: template GUID %q", ErrNotFound, guid)
	}
	out := make([]byte, len(raw))
	copy(out, raw)
	return out, nil
}

// Resources returns the raw manifest blobs backing the current index, in
// ingestion order. Dumping them and loading the dump reconstructs an
// observationally equal cache.
func (c *TemplateCache) Resources() [][]byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([][]byte, len(c.resources))
	copy(out, c.resources)
	return out
}

// TemplateCount returns the number of distinct templates indexed.
func (c *TemplateCache) TemplateCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.tempsByGUID)
}

// EventCount returns the number of distinct event keys indexed.
func (c *TemplateCache) EventCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.eventToTemplate)
}

// Overwrites reports how many duplicate keys (event triples or template
// GUIDs) were overwritten across all ingestions. The overwrite itself is
// silent last-write-wins; this counter lets callers surface conflicts.
func (c *TemplateCache) Overwrites() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.overwrites
}

// TemplateGUIDs returns the indexed template GUIDs in unspecified order.
func (c *TemplateCache) TemplateGUIDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.tempsByGUID))
	for guid := range c.tempsByGUID {
		out = append(out, guid)
	}
	return out
}
