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

package media

import (
	"context"
	"io"

	"github.com/frostbyte73/core"
	"github.com/google/uuid"
	"github.com/linkdata/deadlock"
	"go.uber.org/atomic"

	"github.com/oglimmer/vmsg/pkg/types"
)

const defaultQueueSize = 64

// Track is a live capture source. Stop is idempotent and ends the track.
type Track interface {
	ID() string
	Kind() types.TrackKind
	Label() string
	Ended() bool
	OnEnded(f func())
	Stop()
}

type VideoTrack interface {
	Track
	Settings() VideoSettings
}

// AudioTrack produces interleaved signed 16-bit PCM.
type AudioTrack interface {
	Track
	Format() AudioFormat
	// ReadSamples blocks until samples are available. It returns io.EOF once the track has ended.
	ReadSamples(ctx context.Context) ([]int16, error)
}

type VideoSettings struct {
	Display   string
	Width     int
	Height    int
	Framerate int
}

type AudioFormat struct {
	SampleRate int
	Channels   int
}

type BaseTrack struct {
	id    string
	kind  types.TrackKind
	label string

	mu      deadlock.Mutex
	onStop  func()
	ended   core.Fuse
	stopped core.Fuse
}

func NewBaseTrack(kind types.TrackKind, label string) *BaseTrack {
	return &BaseTrack{
		id:    uuid.NewString(),
		kind:  kind,
		label: label,
	}
}

func (t *BaseTrack) ID() string            { return t.id }
func (t *BaseTrack) Kind() types.TrackKind { return t.kind }
func (t *BaseTrack) Label() string         { return t.label }
func (t *BaseTrack) Ended() bool           { return t.ended.IsBroken() }

// Done is closed when the track ends.
func (t *BaseTrack) Done() <-chan struct{} {
	return t.ended.Watch()
}

// OnEnded registers f to run on its own goroutine once the track ends.
// Callbacks registered after the track ended still run.
func (t *BaseTrack) OnEnded(f func()) {
	if f == nil {
		return
	}
	go func() {
		<-t.ended.Watch()
		f()
	}()
}

// SetOnStop sets a hook called once when the track is stopped by its consumer.
func (t *BaseTrack) SetOnStop(f func()) {
	t.mu.Lock()
	t.onStop = f
	t.mu.Unlock()
}

func (t *BaseTrack) Stop() {
	t.stopped.Once(func() {
		t.mu.Lock()
		onStop := t.onStop
		t.mu.Unlock()
		if onStop != nil {
			onStop()
		}
	})
	t.End()
}

// End marks the track ended without running the stop hook, e.g. when the source disappears.
func (t *BaseTrack) End() {
	t.ended.Break()
}

var _ VideoTrack = (*DisplayTrack)(nil)

type DisplayTrack struct {
	*BaseTrack
	settings VideoSettings
}

func NewDisplayTrack(label string, settings VideoSettings) *DisplayTrack {
	return &DisplayTrack{
		BaseTrack: NewBaseTrack(types.TrackKindVideo, label),
		settings:  settings,
	}
}

func (t *DisplayTrack) Settings() VideoSettings {
	return t.settings
}

var _ AudioTrack = (*PCMTrack)(nil)

// PCMTrack is an AudioTrack fed by a producer through Write.
type PCMTrack struct {
	*BaseTrack
	format  AudioFormat
	queue   chan []int16
	dropped atomic.Uint64
}

func NewPCMTrack(label string, format AudioFormat) *PCMTrack {
	return &PCMTrack{
		BaseTrack: NewBaseTrack(types.TrackKindAudio, label),
		format:    format,
		queue:     make(chan []int16, defaultQueueSize),
	}
}

func (t *PCMTrack) Format() AudioFormat {
	return t.format
}

// Write queues samples for the consumer. When the consumer falls behind, the oldest chunk is dropped.
func (t *PCMTrack) Write(samples []int16) error {
	if t.Ended() {
		return io.ErrClosedPipe
	}
	if len(samples) == 0 {
		return nil
	}

	for {
		select {
		case t.queue <- samples:
			return nil
		default:
		}

		select {
		case <-t.queue:
			t.dropped.Inc()
		default:
		}
	}
}

func (t *PCMTrack) ReadSamples(ctx context.Context) ([]int16, error) {
	select {
	case samples := <-t.queue:
		return samples, nil
	default:
	}

	select {
	case samples := <-t.queue:
		return samples, nil
	case <-t.Done():
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Dropped returns the number of chunks discarded because the consumer fell behind.
func (t *PCMTrack) Dropped() uint64 {
	return t.dropped.Load()
}
