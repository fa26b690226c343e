package dxfeed

import (
	"fmt"
	"log/slog"
	"sync"
)

// Mapper turns payloads into typed events. It remembers the field names of
// the first sample of every event type so later value-only samples can be
// keyed. A Mapper belongs to a single connection; the feed resends schemas
// after a reconnect.
type Mapper struct {
	mu      sync.RWMutex
	schemas map[string][]string
	log     *slog.Logger
}

// NewMapper creates a Mapper with an empty schema cache.
func NewMapper(log *slog.Logger) *Mapper {
	if log == nil {
		log = slog.Default()
	}
	return &Mapper{
		schemas: make(map[string][]string),
		log:     log,
	}
}

// Schema returns the cached field names for eventType.
func (m *Mapper) Schema(eventType string) ([]string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	fields, ok := m.schemas[eventType]
	return fields, ok
}

// Records updates the schema cache from p and returns its keyed records with
// timestamps converted.
func (m *Mapper) Records(p *Payload) ([]Record, error) {
	fields, err := m.resolve(p)
	if err != nil {
		return nil, err
	}
	records, err := Split(fields, p.Values)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p.Type, err)
	}
	for _, rec := range records {
		if err := convertTimestamps(rec); err != nil {
			return nil, fmt.Errorf("%s: %w", p.Type, err)
		}
	}
	return records, nil
}

// Map returns the typed events in p, in payload order. Payloads of an event
// type without a typed record yield a single Unknown event.
func (m *Mapper) Map(p *Payload) ([]Event, error) {
	if !Known(p.Type) {
		if p.Kind == FirstSample {
			m.store(p.Type, p.Fields)
		}
		m.log.Info("unknown event type", "type", p.Type, "kind", p.Kind.String())
		return []Event{&Unknown{Type: p.Type, Payload: p.Raw}}, nil
	}

	records, err := m.Records(p)
	if err != nil {
		return nil, err
	}
	build := builders[p.Type]
	events := make([]Event, 0, len(records))
	for _, rec := range records {
		events = append(events, build(rec))
	}
	return events, nil
}

func (m *Mapper) resolve(p *Payload) ([]string, error) {
	if p.Kind == FirstSample {
		m.store(p.Type, p.Fields)
		return p.Fields, nil
	}
	fields, ok := m.Schema(p.Type)
	if !ok {
		return nil, fmt.Errorf("%w for %s", ErrUnknownSchema, p.Type)
	}
	return fields, nil
}

// store records the schema for eventType; the latest first sample wins.
func (m *Mapper) store(eventType string, fields []string) {
	cp := make([]string, len(fields))
	copy(cp, fields)
	m.mu.Lock()
	m.schemas[eventType] = cp
	m.mu.Unlock()
}
