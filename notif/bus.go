// Copyright (c) 2019-2020, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

// Package notif implements spec.md §4.7: the notification bus. Streams
// are named channels with a bounded ring buffer for replay;
// subscriptions attach a (session, stream, filter, start, stop) tuple
// and receive both replay and live events. The fan-out/subscriber
// split is grounded in
// _examples/ipiton-alert-history-service/go-app/internal/realtime/bus.go's
// DefaultEventBus (Subscribe/Unsubscribe/Publish over a per-subscriber
// channel, drained by a broadcast goroutine), generalized here to
// multiple named streams each with their own replay buffer.
package notif

import (
	"log"
	"strings"
	"sync"
	"time"

	"github.com/danos/mgmterror"

	"github.com/danos/netconfd"
)

// Event is one notification on a stream, spec §4.7 "Streams".
type Event struct {
	Stream    string
	Timestamp time.Time
	Payload   []byte // serialized <notification> content
}

// SessionWriter delivers a serialized event to a live session's socket.
// Implemented by session.Manager; kept as an interface here so notif
// doesn't import session (session, in turn, reaches the bus only through
// its own Unsubscriber interface, which Bus.CancelSession satisfies).
type SessionWriter interface {
	WriteTo(session netconfd.SessionId, body []byte) error
}

type subscriber struct {
	session netconfd.SessionId
	filter  string
	stop    *time.Time
}

// stream holds one named channel's replay buffer and live subscribers.
// order records subscriber registration order, spec §5 "Ordering
// guarantees": "across subscribers the order is the registration order
// walked on each event" — a Go map alone can't provide that, so
// Publish walks order instead of ranging subs directly.
type stream struct {
	mu    sync.Mutex
	ring  []Event
	head  int
	count int
	subs  map[netconfd.SessionId]*subscriber
	order []netconfd.SessionId
}

func newStream(capacity int) *stream {
	if capacity <= 0 {
		capacity = 256
	}
	return &stream{ring: make([]Event, capacity), subs: make(map[netconfd.SessionId]*subscriber)}
}

// addSubscriber registers sub, appending to order only the first time a
// session subscribes (a re-subscribe keeps its original registration
// order rather than moving to the back).
func (s *stream) addSubscriber(sub *subscriber) {
	if _, exists := s.subs[sub.session]; !exists {
		s.order = append(s.order, sub.session)
	}
	s.subs[sub.session] = sub
}

// removeSubscriber deletes session from both subs and order.
func (s *stream) removeSubscriber(session netconfd.SessionId) {
	if _, ok := s.subs[session]; !ok {
		return
	}
	delete(s.subs, session)
	for i, id := range s.order {
		if id == session {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

func (s *stream) push(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ring[s.head] = e
	s.head = (s.head + 1) % len(s.ring)
	if s.count < len(s.ring) {
		s.count++
	}
}

// since returns buffered events at or after t, oldest first.
func (s *stream) since(t time.Time) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, 0, s.count)
	start := (s.head - s.count + len(s.ring)) % len(s.ring)
	for i := 0; i < s.count; i++ {
		e := s.ring[(start+i)%len(s.ring)]
		if !e.Timestamp.Before(t) {
			out = append(out, e)
		}
	}
	return out
}

// Bus is the notification bus of spec §4.7.
type Bus struct {
	mu      sync.RWMutex
	streams map[string]*stream

	Writer SessionWriter
	Elog   *log.Logger
}

func NewBus(elog *log.Logger) *Bus {
	b := &Bus{streams: make(map[string]*stream), Elog: elog}
	b.RegisterStream("NETCONF", 256)
	return b
}

// RegisterStream declares a named channel at startup, spec §4.7
// "registered at startup (at minimum NETCONF plus any plugin-declared
// streams)".
func (b *Bus) RegisterStream(name string, capacity int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.streams[name]; !ok {
		b.streams[name] = newStream(capacity)
	}
}

// Subscribe attaches (session, stream, filter, start, stop), per spec
// §4.7 "Subscription". If start is in the past, the subscriber is
// first fed a replay from the ring buffer in timestamp order, then
// joins the live feed.
func (b *Bus) Subscribe(session netconfd.SessionId, streamName, filter string, start, stop *time.Time) error {
	b.mu.Lock()
	st, ok := b.streams[streamName]
	if !ok {
		st = newStream(256)
		b.streams[streamName] = st
	}
	b.mu.Unlock()

	st.mu.Lock()
	st.addSubscriber(&subscriber{session: session, filter: filter, stop: stop})
	st.mu.Unlock()

	if start != nil && !start.After(time.Now()) {
		for _, e := range st.since(*start) {
			if matches(filter, e) {
				b.deliver(session, e)
			}
		}
	}
	return nil
}

// Publish pushes event onto streamName's ring buffer and delivers it to
// every live, matching subscriber (spec §4.7 "The bus pushes each
// event matching the filter to every live subscriber"). Subscribers
// are walked in st.order, spec §5 "Ordering guarantees": across
// subscribers the order is the registration order walked on each
// event.
func (b *Bus) Publish(streamName string, payload []byte) {
	b.mu.RLock()
	st, ok := b.streams[streamName]
	b.mu.RUnlock()
	if !ok {
		return
	}

	e := Event{Stream: streamName, Timestamp: time.Now(), Payload: payload}
	st.push(e)

	st.mu.Lock()
	targets := make([]*subscriber, 0, len(st.order))
	for _, session := range st.order {
		if sub, ok := st.subs[session]; ok {
			targets = append(targets, sub)
		}
	}
	st.mu.Unlock()

	for _, sub := range targets {
		if !matches(sub.filter, e) {
			continue
		}
		b.deliver(sub.session, e)
		if sub.stop != nil && !sub.stop.After(e.Timestamp) {
			b.unsubscribeOne(streamName, sub.session)
		}
	}
}

func (b *Bus) deliver(session netconfd.SessionId, e Event) {
	if b.Writer == nil {
		return
	}
	if err := b.Writer.WriteTo(session, e.Payload); err != nil {
		if isConnError(err) {
			b.CancelSession(session)
			return
		}
		if b.Elog != nil {
			b.Elog.Printf("notification delivery to session %d failed: %v", session, err)
		}
	}
}

func isConnError(err error) bool {
	msg := err.Error()
	if me, ok := err.(mgmterror.Formattable); ok && me.GetMessage() != "" {
		msg = me.GetMessage()
	}
	return strings.Contains(msg, "connection-reset") || strings.Contains(msg, "broken-pipe")
}

// matches is the out-of-scope XPath evaluator's filter contract as
// applied to notifications: empty filter always matches; a non-empty
// filter matches when its text appears in the serialized payload. A
// full XPath engine is explicitly out of scope (spec §1).
func matches(filter string, e Event) bool {
	if filter == "" {
		return true
	}
	return strings.Contains(string(e.Payload), filter)
}

func (b *Bus) unsubscribeOne(streamName string, session netconfd.SessionId) {
	b.mu.RLock()
	st, ok := b.streams[streamName]
	b.mu.RUnlock()
	if !ok {
		return
	}
	st.mu.Lock()
	st.removeSubscriber(session)
	st.mu.Unlock()
}

// CancelSession implements session.Unsubscriber: removes session from
// every stream it was subscribed to, spec §4.6 "cancel all
// subscriptions" on session teardown.
func (b *Bus) CancelSession(session netconfd.SessionId) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, st := range b.streams {
		st.mu.Lock()
		st.removeSubscriber(session)
		st.mu.Unlock()
	}
}
