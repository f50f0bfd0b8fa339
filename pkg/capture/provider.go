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

package capture

import (
	"context"
	"time"

	"github.com/oglimmer/vmsg/pkg/media"
	"github.com/oglimmer/vmsg/pkg/types"
)

// Provider gives access to capture devices and the encoder, like a browser's media devices.
type Provider interface {
	// Capabilities inspects the environment. It may run external commands.
	Capabilities(ctx context.Context) Capabilities

	// GetDisplayMedia captures the display and, when requested, system audio.
	GetDisplayMedia(ctx context.Context, opts DisplayOptions) (*DisplayMedia, error)

	// GetUserMedia captures the default microphone.
	GetUserMedia(ctx context.Context) (media.AudioTrack, error)

	IsTypeSupported(mimeType types.MimeType) bool

	// NewEncoder creates an inactive encoder for the stream.
	NewEncoder(stream *media.Stream, opts EncoderOptions, callbacks *EncoderCallbacks) (Encoder, error)
}

type DisplayOptions struct {
	SystemAudio bool
}

type DisplayMedia struct {
	Video media.VideoTrack
	Audio media.AudioTrack // nil without system audio
}

// Tracks returns every captured track.
func (d *DisplayMedia) Tracks() []media.Track {
	tracks := []media.Track{d.Video}
	if d.Audio != nil {
		tracks = append(tracks, d.Audio)
	}
	return tracks
}

type EncoderOptions struct {
	MimeType  types.MimeType
	Timeslice time.Duration // 0 emits a single fragment on stop
}

// Encoder turns a stream into container fragments.
// Start must not invoke callbacks before it returns. Stop and RequestData are asynchronous:
// data and the stopped signal are delivered through the callbacks.
type Encoder interface {
	Start() error
	Stop()
	RequestData()
	State() types.EncoderState
	MimeType() types.MimeType
}
