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
	"github.com/google/uuid"
)

// Stream is the set of live tracks handed to an encoder: one video track and at most one audio track.
type Stream struct {
	id    string
	video VideoTrack
	audio AudioTrack
}

// Compose builds a stream from the display track and the mixed audio track, if any.
// Tracks are held by reference so ended callbacks on the video track stay observable.
func Compose(video VideoTrack, audio AudioTrack) *Stream {
	return &Stream{
		id:    uuid.NewString(),
		video: video,
		audio: audio,
	}
}

func (s *Stream) ID() string {
	return s.id
}

func (s *Stream) Video() VideoTrack {
	return s.video
}

// Audio returns nil when no audio source was captured.
func (s *Stream) Audio() AudioTrack {
	return s.audio
}

func (s *Stream) Tracks() []Track {
	tracks := make([]Track, 0, 2)
	if s.video != nil {
		tracks = append(tracks, s.video)
	}
	if s.audio != nil {
		tracks = append(tracks, s.audio)
	}
	return tracks
}

// Stop stops every track in the stream.
func (s *Stream) Stop() {
	for _, t := range s.Tracks() {
		t.Stop()
	}
}
