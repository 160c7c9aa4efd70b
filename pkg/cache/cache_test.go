package cache

import (
	"bytes"
	"errors"
	"testing"

	"github.com/wevtflow/wevtflow/pkg/binxml"
	"github.com/wevtflow/wevtflow/pkg/testing/generators"
)

const (
	providerGUID = "54849625-5478-4994-a5ba-3e3b0328c30d"
	templateGUID = "b47cbe24-0497-4f9f-a826-8ecab13a8b9c"
	otherTempl   = "11111111-2222-3333-4444-555555555555"
)

// manifestBlob builds a single-provider manifest with one event (4624 v2)
// bound to one template.
func manifestBlob(provider, template string) []byte {
	frag := generators.Frag(
		generators.Element("EventData",
			generators.Element("Data", generators.Sub(0, binxml.TypeString)),
			generators.Element("Data", generators.Sub(1, binxml.TypeUint32)),
		),
	)
	return generators.BuildCRIM([]generators.ProviderSpec{
		{
			GUID: provider,
			Events: []generators.EventSpec{
				{ID: 4624, Version: 2, TemplateIndex: 0},
			},
			Templates: []generators.TempSpec{
				{GUID: template, Fragment: frag},
			},
		},
	})
}

func TestIngestAndResolve(t *testing.T) {
	c := New()

	n, err := c.Ingest(manifestBlob(providerGUID, templateGUID))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if n != 1 {
		t.Errorf("Ingest returned %d templates, want 1", n)
	}
	if c.TemplateCount() != 1 || c.EventCount() != 1 {
		t.Errorf("counts = (%d templates, %d events), want (1, 1)", c.TemplateCount(), c.EventCount())
	}

	guid, err := c.Resolve(providerGUID, 4624, 2)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if guid != templateGUID {
		t.Errorf("Resolve = %q, want %q", guid, templateGUID)
	}

	raw, err := c.TemplateBytes(templateGUID)
	if err != nil {
		t.Fatalf("TemplateBytes: %v", err)
	}
	if string(raw[0:4]) != "TEMP" {
		t.Error("TemplateBytes did not return a TEMP blob")
	}
}

func TestResolve_GUIDNormalization(t *testing.T) {
	c := New()
	if _, err := c.Ingest(manifestBlob(providerGUID, templateGUID)); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	variants := []string{
		"54849625-5478-4994-A5BA-3E3B0328C30D",
		"{54849625-5478-4994-a5ba-3e3b0328c30d}",
		providerGUID,
	}
	for _, v := range variants {
		if _, err := c.Resolve(v, 4624, 2); err != nil {
			t.Errorf("Resolve(%q): %v", v, err)
		}
	}

	if _, err := c.TemplateBytes("{B47CBE24-0497-4F9F-A826-8ECAB13A8B9C}"); err != nil {
		t.Errorf("TemplateBytes with braces and upper case: %v", err)
	}
}

func TestResolve_NotFound(t *testing.T) {
	c := New()
	if _, err := c.Ingest(manifestBlob(providerGUID, templateGUID)); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	tests := []struct {
		name     string
		provider string
		eventID  uint16
		version  uint8
	}{
		{"wrong provider", otherTempl, 4624, 2},
		{"wrong event id", providerGUID, 9999, 2},
		{"wrong version", providerGUID, 4624, 3},
	}
	for _, tt := range tests {
		if _, err := c.Resolve(tt.provider, tt.eventID, tt.version); !errors.Is(err, ErrNotFound) {
			t.Errorf("%s: err = %v, want ErrNotFound", tt.name, err)
		}
	}

	if _, err := c.TemplateBytes(otherTempl); !errors.Is(err, ErrNotFound) {
		t.Errorf("TemplateBytes: err = %v, want ErrNotFound", err)
	}
}

func TestIngest_LastWriteWins(t *testing.T) {
	c := New()

	if _, err := c.Ingest(manifestBlob(providerGUID, templateGUID)); err != nil {
		t.Fatalf("first Ingest: %v", err)
	}
	if c.Overwrites() != 0 {
		t.Errorf("Overwrites = %d after first ingest", c.Overwrites())
	}

	// Same provider and event, different template binding.
	if _, err := c.Ingest(manifestBlob(providerGUID, otherTempl)); err != nil {
		t.Fatalf("second Ingest: %v", err)
	}

	guid, err := c.Resolve(providerGUID, 4624, 2)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if guid != otherTempl {
		t.Errorf("Resolve = %q, want the later binding %q", guid, otherTempl)
	}
	if c.Overwrites() != 1 {
		t.Errorf("Overwrites = %d, want 1", c.Overwrites())
	}
	if c.TemplateCount() != 2 {
		t.Errorf("TemplateCount = %d, want 2", c.TemplateCount())
	}
	if len(c.Resources()) != 2 {
		t.Errorf("Resources = %d blobs, want 2", len(c.Resources()))
	}
}

func TestIngest_Transactional(t *testing.T) {
	c := New()
	if _, err := c.Ingest(manifestBlob(providerGUID, templateGUID)); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	bad := manifestBlob(otherTempl, otherTempl)
	copy(bad, "NOPE")
	if _, err := c.Ingest(bad); err == nil {
		t.Fatal("expected Ingest to fail on a corrupted blob")
	}

	// The failed ingest must leave the cache untouched.
	if c.TemplateCount() != 1 || c.EventCount() != 1 || len(c.Resources()) != 1 {
		t.Errorf("cache mutated by failed ingest: %d templates, %d events, %d resources",
			c.TemplateCount(), c.EventCount(), len(c.Resources()))
	}
	if _, err := c.Resolve(providerGUID, 4624, 2); err != nil {
		t.Errorf("original entry lost: %v", err)
	}
}

func TestResources_Copies(t *testing.T) {
	c := New()
	blob := manifestBlob(providerGUID, templateGUID)
	if _, err := c.Ingest(blob); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	// Mutating the caller's blob must not reach the stored resource.
	saved := append([]byte{}, blob...)
	for i := range blob {
		blob[i] = 0
	}
	if !bytes.Equal(c.Resources()[0], saved) {
		t.Error("stored resource shares memory with the ingested blob")
	}

	// Mutating a returned template copy must not reach the index.
	raw, err := c.TemplateBytes(templateGUID)
	if err != nil {
		t.Fatalf("TemplateBytes: %v", err)
	}
	raw[0] = 'X'
	raw2, _ := c.TemplateBytes(templateGUID)
	if string(raw2[0:4]) != "TEMP" {
		t.Error("TemplateBytes returned a shared slice")
	}
}

func TestTemplateGUIDs(t *testing.T) {
	c := New()
	if _, err := c.Ingest(manifestBlob(providerGUID, templateGUID)); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	guids := c.TemplateGUIDs()
	if len(guids) != 1 || guids[0] != templateGUID {
		t.Errorf("TemplateGUIDs = %v", guids)
	}
}
