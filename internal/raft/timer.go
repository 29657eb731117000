/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package raft

import (
	"sync"
	"time"
)

// OneShotTimer fires its callback once after a delay, and can be
// restarted with a new delay before or after firing. Used for the
// election timeout, which must be rearmed with a freshly randomized
// delay on every heartbeat or vote grant.
type OneShotTimer struct {
	mu       sync.Mutex
	timer    *time.Timer
	callback func()
	stopped  bool
}

// NewOneShotTimer creates a timer armed with delay, invoking fn on fire.
func NewOneShotTimer(delay time.Duration, fn func()) *OneShotTimer {
	t := &OneShotTimer{callback: fn}
	t.timer = time.AfterFunc(delay, t.fire)
	return t
}

func (t *OneShotTimer) fire() {
	t.mu.Lock()
	stopped := t.stopped
	cb := t.callback
	t.mu.Unlock()
	if !stopped && cb != nil {
		cb()
	}
}

// Restart cancels any pending fire and rearms the timer with a new delay.
func (t *OneShotTimer) Restart(delay time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	t.timer.Stop()
	t.timer.Reset(delay)
}

// Stop cancels the timer. Idempotent: calling Stop twice is harmless.
func (t *OneShotTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	t.stopped = true
	t.timer.Stop()
}

// AutoRestartTimer re-arms itself with the same delay after every fire,
// until Stop is called. Used for the leader's heartbeat ticker.
type AutoRestartTimer struct {
	mu       sync.Mutex
	timer    *time.Timer
	delay    time.Duration
	callback func()
	stopped  bool
}

// NewAutoRestartTimer creates a periodic timer invoking fn every delay.
func NewAutoRestartTimer(delay time.Duration, fn func()) *AutoRestartTimer {
	t := &AutoRestartTimer{delay: delay, callback: fn}
	t.timer = time.AfterFunc(delay, t.fire)
	return t
}

func (t *AutoRestartTimer) fire() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	cb := t.callback
	t.timer.Reset(t.delay)
	t.mu.Unlock()

	if cb != nil {
		cb()
	}
}

// Stop cancels the timer. Idempotent.
func (t *AutoRestartTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	t.stopped = true
	t.timer.Stop()
}
