package cache

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/wevtflow/wevtflow/pkg/binxml"
	"github.com/wevtflow/wevtflow/pkg/testing/generators"
)

func TestRenderTemplateXML(t *testing.T) {
	c := New()
	if _, err := c.Ingest(manifestBlob(providerGUID, templateGUID)); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	values := []binxml.Value{
		{Kind: binxml.KindString, Str: "alice"},
		{Kind: binxml.KindUint, Uint: 4624},
	}
	xml, err := c.RenderTemplateXML(templateGUID, values, "")
	if err != nil {
		t.Fatalf("RenderTemplateXML: %v", err)
	}
	want := "<EventData><Data>alice</Data><Data>4624</Data></EventData>"
	if xml != want {
		t.Errorf("xml = %q, want %q", xml, want)
	}
}

func TestRenderTemplateXML_Placeholders(t *testing.T) {
	c := New()
	if _, err := c.Ingest(manifestBlob(providerGUID, templateGUID)); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	xml, err := c.RenderTemplateXML(templateGUID, nil, "")
	if err != nil {
		t.Fatalf("RenderTemplateXML: %v", err)
	}
	if !strings.Contains(xml, "{sub:0}") || !strings.Contains(xml, "{sub:1}") {
		t.Errorf("expected placeholders in %q", xml)
	}
}

func TestRenderTemplateXML_Errors(t *testing.T) {
	c := New()
	if _, err := c.Ingest(manifestBlob(providerGUID, templateGUID)); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	if _, err := c.RenderTemplateXML(otherTempl, nil, ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown GUID: err = %v, want ErrNotFound", err)
	}
	if _, err := c.RenderTemplateXML(templateGUID, nil, "no-such-charset"); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("bad codec: err = %v, want ErrInvalidArgument", err)
	}
}

func renderFixture(t *testing.T) (*TemplateCache, []byte) {
	t.Helper()
	c := New()
	if _, err := c.Ingest(manifestBlob(providerGUID, templateGUID)); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	evtx := generators.BuildEVTX([]generators.RecordSpec{
		{
			ID:           5,
			TemplateGUID: templateGUID,
			Values: []generators.ValueSpec{
				generators.StringValue("bob"),
				generators.Uint32Value(4624),
			},
		},
		{
			ID:           6,
			TemplateGUID: templateGUID,
			Values: []generators.ValueSpec{
				generators.StringValue("carol"),
				generators.Uint32Value(4625),
			},
		},
	})
	return c, evtx
}

func TestRenderRecordXML_ByTemplateGUID(t *testing.T) {
	c, data := renderFixture(t)

	xml, err := c.RenderRecordXML(bytes.NewReader(data), 6, 0,
		TemplateSelector{TemplateGUID: templateGUID}, "")
	if err != nil {
		t.Fatalf("RenderRecordXML: %v", err)
	}
	want := "<EventData><Data>carol</Data><Data>4625</Data></EventData>"
	if xml != want {
		t.Errorf("xml = %q, want %q", xml, want)
	}
}

func TestRenderRecordXML_ByResolveTriple(t *testing.T) {
	c, data := renderFixture(t)

	sel := TemplateSelector{ProviderGUID: providerGUID, EventID: 4624, Version: 2}
	xml, err := c.RenderRecordXML(bytes.NewReader(data), 5, 0, sel, "")
	if err != nil {
		t.Fatalf("RenderRecordXML: %v", err)
	}
	if !strings.Contains(xml, "bob") {
		t.Errorf("expected record 5 values in %q", xml)
	}
}

func TestRenderRecordXML_RecordNotFound(t *testing.T) {
	c, data := renderFixture(t)

	_, err := c.RenderRecordXML(bytes.NewReader(data), 999, 0,
		TemplateSelector{TemplateGUID: templateGUID}, "")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestRenderRecordXML_InstanceIndex(t *testing.T) {
	c, data := renderFixture(t)
	sel := TemplateSelector{TemplateGUID: templateGUID}

	if _, err := c.RenderRecordXML(bytes.NewReader(data), 5, 3, sel, ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("out of range index: err = %v, want ErrNotFound", err)
	}
	if _, err := c.RenderRecordXML(bytes.NewReader(data), 5, -1, sel, ""); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("negative index: err = %v, want ErrInvalidArgument", err)
	}
}

func TestRenderRecordXML_EmptySelector(t *testing.T) {
	c, data := renderFixture(t)

	if _, err := c.RenderRecordXML(bytes.NewReader(data), 5, 0, TemplateSelector{}, ""); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("err = %v, want ErrInvalidArgument", err)
	}
}
