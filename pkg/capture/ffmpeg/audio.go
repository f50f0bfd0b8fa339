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

package ffmpeg

import (
	"encoding/binary"
	"io"
	"os"
	"os/exec"
	"syscall"

	"github.com/livekit/protocol/logger"
	"github.com/oglimmer/vmsg/pkg/logging"
	"github.com/oglimmer/vmsg/pkg/media"
)

// captureAudio runs an ffmpeg pulse capture and feeds its PCM output into a track.
// Stopping the track interrupts ffmpeg; ffmpeg exiting ends the track.
func (p *Provider) captureAudio(label, device string) (*media.PCMTrack, error) {
	format := media.AudioFormat{
		SampleRate: p.conf.Mixer.SampleRate,
		Channels:   p.conf.Mixer.Channels,
	}

	cmdLogger := logging.NewCmdLogger(label, p.conf.Debug)
	cmd := exec.Command(p.conf.Capture.FFmpegPath, audioArgs(device, format)...)
	cmd.Stderr = cmdLogger
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err = cmd.Start(); err != nil {
		return nil, err
	}

	track := media.NewPCMTrack(label, format)
	track.SetOnStop(func() {
		_ = cmd.Process.Signal(os.Interrupt)
	})

	frameSize := p.conf.Mixer.FrameSamples() * format.Channels
	go func() {
		readPCM(stdout, track, frameSize)
		err := cmd.Wait()
		stopped := track.Ended()
		track.End()
		_ = cmdLogger.Close()

		if err != nil && !stopped {
			logger.Warnw("audio capture exited", err, "source", label, "output", cmdLogger.LastError())
		} else {
			logger.Debugw("audio capture closed", "source", label)
		}
	}()

	logger.Debugw("audio capture started", "source", label, "device", device)
	return track, nil
}

// readPCM reads little endian s16 frames until EOF.
func readPCM(r io.Reader, track *media.PCMTrack, frameSize int) {
	buf := make([]byte, frameSize*2)
	for {
		n, err := io.ReadFull(r, buf)
		if n >= 2 {
			samples := make([]int16, n/2)
			for i := range samples {
				samples[i] = int16(binary.LittleEndian.Uint16(buf[2*i:]))
			}
			if track.Write(samples) != nil {
				// drain so ffmpeg can exit
				_, _ = io.Copy(io.Discard, r)
				return
			}
		}
		if err != nil {
			return
		}
	}
}
