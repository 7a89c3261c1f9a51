// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package eventstore

import (
	"sort"
	"sync"
)

// Subscription receives commit notifications.
//
// Description:
//
//	Notifications coalesce: only the highest committed version per stream
//	is kept until the subscriber drains. Writers never block on a slow
//	subscriber; they set the pending position and poke a one-slot channel.
//
// Thread Safety: Safe for concurrent use.
type Subscription struct {
	mu      sync.Mutex
	pending map[StreamID]uint64
	signal  chan struct{}
	closed  bool
	owner   *notifier
}

// C is signalled whenever new positions are pending.
func (s *Subscription) C() <-chan struct{} {
	return s.signal
}

// Drain returns and clears the pending positions, sorted by stream.
func (s *Subscription) Drain() []Position {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Position, 0, len(s.pending))
	for id, v := range s.pending {
		out = append(out, Position{Stream: id, Version: v})
	}
	clear(s.pending)
	sort.Slice(out, func(i, j int) bool { return out[i].Stream < out[j].Stream })
	return out
}

// Close detaches the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.owner.remove(s)
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (s *Subscription) push(p Position) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if p.Version >= s.pending[p.Stream] {
		s.pending[p.Stream] = p.Version
	}
	s.mu.Unlock()

	select {
	case s.signal <- struct{}{}:
	default:
	}
}

// notifier fans commit positions out to subscriptions.
type notifier struct {
	mu   sync.RWMutex
	subs map[*Subscription]struct{}
}

func newNotifier() *notifier {
	return &notifier{subs: make(map[*Subscription]struct{})}
}

func (n *notifier) subscribe() *Subscription {
	s := &Subscription{
		pending: make(map[StreamID]uint64),
		signal:  make(chan struct{}, 1),
		owner:   n,
	}
	n.mu.Lock()
	n.subs[s] = struct{}{}
	n.mu.Unlock()
	return s
}

func (n *notifier) remove(s *Subscription) {
	n.mu.Lock()
	delete(n.subs, s)
	n.mu.Unlock()
}

func (n *notifier) publish(p Position) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	for s := range n.subs {
		s.push(p)
	}
}
