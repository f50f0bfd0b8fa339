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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oglimmer/vmsg/pkg/errors"
)

func TestProbe(t *testing.T) {
	for _, test := range []struct {
		name   string
		caps   Capabilities
		reason string
	}{
		{
			name:   "supported",
			caps:   Capabilities{MediaDevices: true, DisplayCapture: true, Recorder: true},
			reason: "",
		},
		{
			name:   "nothing",
			caps:   Capabilities{},
			reason: ReasonNoMediaDevices,
		},
		{
			name:   "no display capture",
			caps:   Capabilities{MediaDevices: true, Recorder: true},
			reason: ReasonNoDisplayCapture,
		},
		{
			name:   "no recorder",
			caps:   Capabilities{MediaDevices: true, DisplayCapture: true},
			reason: ReasonNoRecorder,
		},
		{
			name:   "media devices checked first",
			caps:   Capabilities{DisplayCapture: true},
			reason: ReasonNoMediaDevices,
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			res := Probe(test.caps)
			require.Equal(t, test.reason == "", res.Supported)
			require.Equal(t, test.reason, res.Reason)

			if res.Supported {
				require.NoError(t, res.Err())
			} else {
				err := res.Err()
				require.ErrorIs(t, err, errors.ErrUnsupportedEnvironment)
				require.Equal(t, test.reason, err.Error())
			}
		})
	}
}

func TestEncoderCallbacks(t *testing.T) {
	cb := &EncoderCallbacks{}

	// unset callbacks are no-ops
	cb.OnDataAvailable([]byte{1})
	cb.OnStopped()
	cb.OnError(errors.ErrEncoderFailed)

	var data []byte
	stopped := false
	var got error
	cb.SetOnDataAvailable(func(b []byte) { data = append(data, b...) })
	cb.SetOnStopped(func() { stopped = true })
	cb.SetOnError(func(err error) { got = err })

	cb.OnDataAvailable([]byte{1, 2})
	cb.OnStopped()
	cb.OnError(errors.ErrEncoderFailed)

	require.Equal(t, []byte{1, 2}, data)
	require.True(t, stopped)
	require.ErrorIs(t, got, errors.ErrEncoderFailed)
}
