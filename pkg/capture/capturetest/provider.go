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

// Package capturetest provides an in-memory capture provider and encoder for tests.
package capturetest

import (
	"context"
	"slices"

	"github.com/linkdata/deadlock"
	"go.uber.org/atomic"

	"github.com/oglimmer/vmsg/pkg/capture"
	"github.com/oglimmer/vmsg/pkg/media"
	"github.com/oglimmer/vmsg/pkg/types"
)

type StopMode int

const (
	// StopSignals goes inactive and delivers the stopped signal asynchronously.
	StopSignals StopMode = iota
	// StopSilent goes inactive without ever delivering the stopped signal.
	StopSilent
	// StopStuck keeps recording and never delivers the stopped signal.
	StopStuck
)

var _ capture.Provider = (*Provider)(nil)

type Provider struct {
	mu deadlock.Mutex

	Caps           capture.Capabilities
	SupportedTypes []types.MimeType // nil supports every type
	Format         media.AudioFormat

	DisplayErr   error
	UserMediaErr error
	EncoderErr   error
	StartErr     error

	StopMode  StopMode
	FinalData []byte // emitted before the stopped signal
	FlushData []byte // emitted on RequestData

	displays []*media.DisplayTrack
	audio    []*media.PCMTrack
	encoders []*Encoder
}

func NewProvider() *Provider {
	return &Provider{
		Caps: capture.Capabilities{
			MediaDevices:   true,
			DisplayCapture: true,
			Recorder:       true,
		},
		Format: media.AudioFormat{SampleRate: 48000, Channels: 2},
	}
}

func (p *Provider) Capabilities(_ context.Context) capture.Capabilities {
	return p.Caps
}

func (p *Provider) GetDisplayMedia(_ context.Context, opts capture.DisplayOptions) (*capture.DisplayMedia, error) {
	if p.DisplayErr != nil {
		return nil, p.DisplayErr
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	video := media.NewDisplayTrack("test display", media.VideoSettings{Display: ":99", Width: 640, Height: 480, Framerate: 30})
	p.displays = append(p.displays, video)

	dm := &capture.DisplayMedia{Video: video}
	if opts.SystemAudio {
		audio := media.NewPCMTrack("test system audio", p.Format)
		p.audio = append(p.audio, audio)
		dm.Audio = audio
	}
	return dm, nil
}

func (p *Provider) GetUserMedia(_ context.Context) (media.AudioTrack, error) {
	if p.UserMediaErr != nil {
		return nil, p.UserMediaErr
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	audio := media.NewPCMTrack("test microphone", p.Format)
	p.audio = append(p.audio, audio)
	return audio, nil
}

func (p *Provider) IsTypeSupported(mimeType types.MimeType) bool {
	return p.SupportedTypes == nil || slices.Contains(p.SupportedTypes, mimeType)
}

func (p *Provider) NewEncoder(stream *media.Stream, opts capture.EncoderOptions, callbacks *capture.EncoderCallbacks) (capture.Encoder, error) {
	if p.EncoderErr != nil {
		return nil, p.EncoderErr
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	e := &Encoder{
		stream:    stream,
		opts:      opts,
		callbacks: callbacks,
		startErr:  p.StartErr,
		stopMode:  p.StopMode,
		finalData: p.FinalData,
		flushData: p.FlushData,
	}
	e.state.Store(string(types.EncoderStateInactive))
	p.encoders = append(p.encoders, e)
	return e, nil
}

// Encoder returns the most recently created encoder.
func (p *Provider) Encoder() *Encoder {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.encoders) == 0 {
		return nil
	}
	return p.encoders[len(p.encoders)-1]
}

// Display returns the most recently captured display track.
func (p *Provider) Display() *media.DisplayTrack {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.displays) == 0 {
		return nil
	}
	return p.displays[len(p.displays)-1]
}

// AudioTracks returns every audio track handed out so far.
func (p *Provider) AudioTracks() []*media.PCMTrack {
	p.mu.Lock()
	defer p.mu.Unlock()

	return slices.Clone(p.audio)
}

var _ capture.Encoder = (*Encoder)(nil)

type Encoder struct {
	stream    *media.Stream
	opts      capture.EncoderOptions
	callbacks *capture.EncoderCallbacks

	startErr  error
	stopMode  StopMode
	finalData []byte
	flushData []byte

	state    atomic.String
	stops    atomic.Int32
	requests atomic.Int32
}

func (e *Encoder) Start() error {
	if e.startErr != nil {
		return e.startErr
	}
	e.state.Store(string(types.EncoderStateRecording))
	return nil
}

func (e *Encoder) Stop() {
	e.stops.Inc()

	switch e.stopMode {
	case StopSignals:
		e.state.Store(string(types.EncoderStateInactive))
		go func() {
			if len(e.finalData) > 0 {
				e.callbacks.OnDataAvailable(e.finalData)
			}
			e.callbacks.OnStopped()
		}()
	case StopSilent:
		e.state.Store(string(types.EncoderStateInactive))
	case StopStuck:
	}
}

func (e *Encoder) RequestData() {
	e.requests.Inc()
	if len(e.flushData) > 0 {
		go e.callbacks.OnDataAvailable(e.flushData)
	}
}

func (e *Encoder) State() types.EncoderState {
	return types.EncoderState(e.state.Load())
}

func (e *Encoder) MimeType() types.MimeType {
	return e.opts.MimeType
}

func (e *Encoder) Stream() *media.Stream {
	return e.stream
}

// Emit delivers a fragment synchronously, like a timeslice boundary.
func (e *Encoder) Emit(data []byte) {
	e.callbacks.OnDataAvailable(data)
}

// SignalStopped delivers the stopped signal synchronously.
func (e *Encoder) SignalStopped() {
	e.state.Store(string(types.EncoderStateInactive))
	e.callbacks.OnStopped()
}

// Fail reports an encoder error synchronously.
func (e *Encoder) Fail(err error) {
	e.state.Store(string(types.EncoderStateInactive))
	e.callbacks.OnError(err)
}

func (e *Encoder) Stops() int {
	return int(e.stops.Load())
}

func (e *Encoder) DataRequests() int {
	return int(e.requests.Load())
}
