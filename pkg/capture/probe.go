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
	"github.com/oglimmer/vmsg/pkg/errors"
)

const (
	ReasonNoMediaDevices   = "Your system does not expose a media devices API. Please run on a desktop with a sound server (PulseAudio or PipeWire)."
	ReasonNoDisplayCapture = "Screen recording is not supported on this device. Please run on a desktop session with a display server."
	ReasonNoRecorder       = "No media recorder is available. Please install ffmpeg or try a different capture provider."
)

// Capabilities describes what the environment offers for recording.
type Capabilities struct {
	MediaDevices   bool
	DisplayCapture bool
	Recorder       bool
}

type ProbeResult struct {
	Supported bool
	Reason    string
}

// Probe checks media devices, then display capture, then the recorder,
// and reports the first missing capability.
func Probe(c Capabilities) ProbeResult {
	switch {
	case !c.MediaDevices:
		return ProbeResult{Reason: ReasonNoMediaDevices}
	case !c.DisplayCapture:
		return ProbeResult{Reason: ReasonNoDisplayCapture}
	case !c.Recorder:
		return ProbeResult{Reason: ReasonNoRecorder}
	default:
		return ProbeResult{Supported: true}
	}
}

// Err returns nil when supported, otherwise an error matching errors.ErrUnsupportedEnvironment.
func (r ProbeResult) Err() error {
	if r.Supported {
		return nil
	}
	return errors.ErrUnsupported(r.Reason)
}
