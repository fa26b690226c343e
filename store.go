package main

import (
	"sync"

	"github.com/NotVinay/tastystream/dxfeed"
	"github.com/NotVinay/tastystream/streamer"
)

// maxAccountEvents bounds the account events kept for the API.
const maxAccountEvents = 100

// snapshotStore keeps the latest event per (event type, symbol) and the most
// recent account events.
type snapshotStore struct {
	mu     sync.RWMutex
	latest map[string]map[string]dxfeed.Event
	// account holds the newest account events, oldest first.
	account []streamer.AccountEvent
}

func newSnapshotStore() *snapshotStore {
	return &snapshotStore{latest: make(map[string]map[string]dxfeed.Event)}
}

// put records ev unless it carries no symbol.
func (s *snapshotStore) put(ev dxfeed.Event) {
	symbol := ev.EventSymbol()
	if symbol == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	bySymbol, ok := s.latest[ev.EventType()]
	if !ok {
		bySymbol = make(map[string]dxfeed.Event)
		s.latest[ev.EventType()] = bySymbol
	}
	bySymbol[symbol] = ev
}

func (s *snapshotStore) get(eventType, symbol string) (dxfeed.Event, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ev, ok := s.latest[eventType][symbol]
	return ev, ok
}

func (s *snapshotStore) putAccount(ev streamer.AccountEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.account = append(s.account, ev)
	if len(s.account) > maxAccountEvents {
		s.account = s.account[len(s.account)-maxAccountEvents:]
	}
}

func (s *snapshotStore) accountEvents() []streamer.AccountEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]streamer.AccountEvent, len(s.account))
	copy(out, s.account)
	return out
}

// consume records events until the channel is closed.
func (s *snapshotStore) consume(events <-chan dxfeed.Event) {
	for ev := range events {
		s.put(ev)
	}
}

// consumeAccount records account events until the channel is closed.
func (s *snapshotStore) consumeAccount(events <-chan streamer.AccountEvent) {
	for ev := range events {
		s.putAccount(ev)
	}
}
