package cache

import (
	"errors"
	"fmt"
	"io"

	"github.com/wevtflow/wevtflow/pkg/binxml"
	"github.com/wevtflow/wevtflow/pkg/evtx"
)

// TemplateSelector names the template a record render should use: either a
// template GUID directly, or a full (provider GUID, event id, version)
// resolve triple. A GUID takes precedence when both are given.
type TemplateSelector struct {
	TemplateGUID string
	ProviderGUID string
	EventID      uint16
	Version      uint8
}

func (s TemplateSelector) resolve(c *TemplateCache) (string, error) {
	if s.TemplateGUID != "" {
		return s.TemplateGUID, nil
	}
	if s.ProviderGUID != "" {
		return c.Resolve(s.ProviderGUID, s.EventID, s.Version)
	}
	return "", fmt.Errorf("%w: selector needs a template GUID or a provider/event/version triple", ErrInvalidArgument)
}

// RenderTemplateXML renders a cached template to XML with the given
// substitution values. Missing values render as numbered placeholders.
func (c *TemplateCache) RenderTemplateXML(templateGUID string, values []binxml.Value, ansiCodec string) (string, error) {
	codec, err := binxml.ResolveANSICodec(ansiCodec)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	raw, err := c.TemplateBytes(templateGUID)
	if err != nil {
		return "", err
	}
	xml, err := binxml.RenderTemplate(raw, values, codec)
	if err != nil {
		return "", fmt.Errorf("cache: render template %s: %w", templateGUID, err)
	}
	return xml, nil
}

// RenderRecordXML locates a record in an EVTX stream by id, takes the
// substitution values of one of its template instances, and renders them
// through the selected cached template. The scan is strictly sequential,
// so when record ids repeat the first occurrence in file order wins.
func (c *TemplateCache) RenderRecordXML(source io.ReadSeeker, recordID uint64, instanceIndex int, sel TemplateSelector, ansiCodec string) (string, error) {
	codec, err := binxml.ResolveANSICodec(ansiCodec)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	guid, err := sel.resolve(c)
	if err != nil {
		return "", err
	}
	raw, err := c.TemplateBytes(guid)
	if err != nil {
		return "", err
	}
	if instanceIndex < 0 {
		return "", fmt.Errorf("%w: negative template instance index %d", ErrInvalidArgument, instanceIndex)
	}

	scanner, err := evtx.NewScanner(source, codec)
	if err != nil {
		return "", err
	}
	for {
		rec, err := scanner.Next()
		if errors.Is(err, io.EOF) {
			return "", fmt.Errorf("%w: record id %d", ErrNotFound, recordID)
		}
		if err != nil {
			return "", err
		}
		if rec.ID != recordID {
			continue
		}

		instances, err := rec.TemplateInstances()
		if err != nil {
			return "", err
		}
		if instanceIndex >= len(instances) {
			return "", fmt.Errorf("%w: record %d has %d template instances, index %d requested",
				ErrNotFound, recordID, len(instances), instanceIndex)
		}
		xml, err := binxml.RenderTemplate(raw, instances[instanceIndex].Values, codec)
		if err != nil {
			return "", fmt.Errorf("cache: render record %d: %w", recordID, err)
		}
		return xml, nil
	}
}
