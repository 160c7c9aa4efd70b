// Package wevt provides an owned object model over parsed WEVT manifests.
//
// The byte-level parser (package crim) returns structures borrowing from the
// input buffer. This package deep-copies every provider, event, template,
// and item into independently owned values, so a parsed Manifest outlives
// the buffer it came from and can be shared freely once built.
package wevt

import (
	"fmt"

	"github.com/wevtflow/wevtflow/pkg/binxml"
	"github.com/wevtflow/wevtflow/pkg/crim"
)

// Header holds the manifest container header.
type Header struct {
	Size          uint32
	MajorVersion  uint16
	MinorVersion  uint16
	ProviderCount uint32
}

// Manifest is one parsed manifest: an ordered list of providers plus the
// owning byte buffer, truncated to the container's declared size.
type Manifest struct {
	data      []byte
	header    Header
	providers []*Provider
}

// Provider is one event provider. Immutable after parse.
type Provider struct {
	guid      string
	offset    uint32
	messageID uint32

	events    []Event
	templates []*Template

	// templateIndexByOffset resolves Event.TemplateOffset references
	// without a linear scan.
	templateIndexByOffset map[uint32]int
}

// Event is one event definition.
type Event struct {
	ID        uint16
	Version   uint8
	MessageID uint32

	// TemplateOffset locates the event's template within the manifest;
	// zero means the event has no template.
	TemplateOffset uint32
}

// HasTemplate reports whether the event references a template.
func (e Event) HasTemplate() bool { return e.TemplateOffset != 0 }

// Template is one TEMP definition. The byte range Offset..Offset+Size lies
// within the owning manifest's buffer.
type Template struct {
	manifest *Manifest

	Offset uint32
	Size   uint32
	GUID   string

	items []TemplateItem
}

// TemplateItem describes one substitution slot.
type TemplateItem struct {
	InputType  uint8
	OutputType uint8
	Count      uint16
	Length     uint16
	Name       string
}

// ParseManifest parses a raw CRIM blob into an owned manifest.
func ParseManifest(raw []byte) (*Manifest, error) {
	parsed, err := crim.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("wevt: parse manifest: %w", err)
	}

	// The truncated slice (limited to the declared container size) is the
	// canonical buffer.
	data := make([]byte, len(parsed.Data))
	copy(data, parsed.Data)

	m := &Manifest{
		data: data,
		header: Header{
			Size:          parsed.Header.Size,
			MajorVersion:  parsed.Header.MajorVersion,
			MinorVersion:  parsed.Header.MinorVersion,
			ProviderCount: parsed.Header.ProviderCount,
		},
	}

	for _, src := range parsed.Providers {
		p := &Provider{
			guid:                  NormalizeGUID(src.GUID),
			offset:                src.Offset,
			messageID:             src.MessageID,
			templateIndexByOffset: make(map[uint32]int, len(src.Templates)),
		}

		p.events = make([]Event, 0, len(src.Events))
		for _, ev := range src.Events {
			p.events = append(p.events, Event{
				ID:             ev.ID,
				Version:        ev.Version,
				MessageID:      ev.MessageID,
				TemplateOffset: ev.TemplateOffset,
			})
		}

		p.templates = make([]*Template, 0, len(src.Templates))
		for i, tpl := range src.Templates {
			items := make([]TemplateItem, 0, len(tpl.Items))
			for _, item := range tpl.Items {
				items = append(items, TemplateItem{
					InputType:  item.InputType,
					OutputType: item.OutputType,
					Count:      item.Count,
					Length:     item.Length,
					Name:       item.Name,
				})
			}
			p.templates = append(p.templates, &Template{
				manifest: m,
				Offset:   tpl.Offset,
				Size:     tpl.Size,
				GUID:     NormalizeGUID(tpl.GUID),
				items:    items,
			})
			p.templateIndexByOffset[tpl.Offset] = i
		}

		m.providers = append(m.providers, p)
	}

	return m, nil
}

// Header returns the container header.
func (m *Manifest) Header() Header { return m.header }

// Providers returns the manifest's providers in container order.
func (m *Manifest) Providers() []*Provider { return m.providers }

// GUID returns the provider's normalized GUID.
func (p *Provider) GUID() string { return p.guid }

// MessageID returns the provider's message identifier, if declared.
func (p *Provider) MessageID() (uint32, bool) {
	if p.messageID == 0xffffffff {
		return 0, false
	}
	return p.messageID, true
}

// Events returns the provider's events in container order.
func (p *Provider) Events() []Event { return p.events }

// Templates returns the provider's templates in container order.
func (p *Provider) Templates() []*Template { return p.templates }

// TemplateByOffset retrieves a template by its manifest offset, as stored
// in Event.TemplateOffset. Absence is a normal empty result.
func (p *Provider) TemplateByOffset(offset uint32) (*Template, bool) {
	idx, ok := p.templateIndexByOffset[offset]
	if !ok {
		return nil, false
	}
	return p.templates[idx], true
}

// Items returns the template's substitution slot descriptors.
func (t *Template) Items() []TemplateItem { return t.items }

// Bytes returns a copy of the raw TEMP bytes from the owning manifest.
func (t *Template) Bytes() ([]byte, error) {
	end := uint64(t.Offset) + uint64(t.Size)
	if end > uint64(len(t.manifest.data)) {
		return nil, fmt.Errorf("wevt: TEMP slice [%d:%d] out of bounds (buffer %d bytes)",
			t.Offset, end, len(t.manifest.data))
	}
	b := make([]byte, t.Size)
	copy(b, t.manifest.data[t.Offset:end])
	return b, nil
}

// ToXML renders the template's byte-code with placeholder substitutions
// ({sub:N}), for offline inspection. ansiCodec is an IANA codec name;
// empty selects the default.
func (t *Template) ToXML(ansiCodec string) (string, error) {
	codec, err := binxml.ResolveANSICodec(ansiCodec)
	if err != nil {
		return "", err
	}
	raw, err := t.Bytes()
	if err != nil {
		return "", err
	}
	return binxml.RenderTemplate(raw, nil, codec)
}
