// Copyright 2025 LiveKit, Inc.
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

package recorder

import (
	"fmt"
	"time"

	"github.com/linkdata/deadlock"
	"go.uber.org/atomic"
)

// Timer counts whole seconds while a session is recording.
type Timer struct {
	interval time.Duration
	elapsed  atomic.Int64

	mu     deadlock.Mutex
	stop   chan struct{}
	onTick func(seconds int)
}

func NewTimer() *Timer {
	return newTimer(time.Second)
}

func newTimer(interval time.Duration) *Timer {
	return &Timer{interval: interval}
}

// OnTick sets a callback invoked after every increment.
func (t *Timer) OnTick(f func(seconds int)) {
	t.mu.Lock()
	t.onTick = f
	t.mu.Unlock()
}

// Start resets the count to zero and starts ticking, replacing any running ticker.
func (t *Timer) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stop != nil {
		close(t.stop)
	}
	t.elapsed.Store(0)
	stop := make(chan struct{})
	t.stop = stop

	go t.run(stop)
}

// Stop is idempotent and safe before Start. The count is kept.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stop != nil {
		close(t.stop)
		t.stop = nil
	}
}

func (t *Timer) Elapsed() int {
	return int(t.elapsed.Load())
}

func (t *Timer) run(stop chan struct{}) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			t.mu.Lock()
			if t.stop != stop {
				t.mu.Unlock()
				return
			}
			seconds := int(t.elapsed.Inc())
			onTick := t.onTick
			t.mu.Unlock()

			if onTick != nil {
				onTick(seconds)
			}
		}
	}
}

// Format renders seconds as H:MM:SS, or M:SS under an hour.
func Format(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	h := seconds / 3600
	m := (seconds % 3600) / 60
	s := seconds % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}
