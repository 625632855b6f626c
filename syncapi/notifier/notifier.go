// Copyright 2017 Vector Creations Ltd
// Copyright 2018 New Vector Ltd
// Copyright 2019-2020 The Matrix.org Foundation C.I.C.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package notifier is syncapi's long-poll wake-up mechanism: a GET /sync
// with a "since" token blocks until either the timeout elapses or a new
// event arrives, rather than polling storage in a loop. Grounded on the
// condition-variable-style wake pattern SPEC_FULL.md's Domain Stack section
// calls for (§4.10); no pack example carries a concrete notifier
// implementation forward (the one pack syncapi file is types-only), so this
// is built directly from that description as a closed-channel broadcast —
// the standard idiom for a context-cancellable condition variable, since
// sync.Cond itself has no ctx-aware wait and would leak a goroutine per
// cancelled waiter.
package notifier

import (
	"context"
	"sync"
)

// Notifier wakes every blocked GET /sync call whenever syncapi/consumers
// records a new position. It carries no per-user room membership — every
// waiter re-checks storage itself once woken.
type Notifier struct {
	mu   sync.Mutex
	gen  uint64
	wake chan struct{}
}

// New constructs a Notifier.
func New() *Notifier {
	return &Notifier{wake: make(chan struct{})}
}

// Broadcast wakes every goroutine currently blocked in Wait.
func (n *Notifier) Broadcast() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.gen++
	close(n.wake)
	n.wake = make(chan struct{})
}

// Generation returns the current broadcast generation, to seed a fresh
// waiter's lastGen before its first Wait call.
func (n *Notifier) Generation() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.gen
}

// Wait blocks until a Broadcast has landed since lastGen, or ctx is
// cancelled, whichever comes first. Returns the generation observed, to
// pass back in as the caller's next lastGen.
func (n *Notifier) Wait(ctx context.Context, lastGen uint64) uint64 {
	n.mu.Lock()
	if n.gen != lastGen {
		gen := n.gen
		n.mu.Unlock()
		return gen
	}
	wake := n.wake
	n.mu.Unlock()

	select {
	case <-wake:
	case <-ctx.Done():
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	return n.gen
}
