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
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/livekit/protocol/logger"
	"github.com/oglimmer/vmsg/pkg/capture"
	"github.com/oglimmer/vmsg/pkg/config"
	"github.com/oglimmer/vmsg/pkg/errors"
	"github.com/oglimmer/vmsg/pkg/logging"
	"github.com/oglimmer/vmsg/pkg/media"
	"github.com/oglimmer/vmsg/pkg/types"
)

var _ capture.Provider = (*Provider)(nil)

// Provider captures an X11 display and PulseAudio sources with ffmpeg.
type Provider struct {
	conf *config.Config
}

func NewProvider(conf *config.Config) *Provider {
	return &Provider{conf: conf}
}

func (p *Provider) Capabilities(ctx context.Context) capture.Capabilities {
	caps := capture.Capabilities{}

	if _, err := exec.LookPath(p.conf.Capture.FFmpegPath); err == nil {
		caps.Recorder = true
	} else {
		logger.Debugw("ffmpeg not found", "path", p.conf.Capture.FFmpegPath, "error", err)
	}

	if err := PulseAvailable(ctx); err == nil {
		caps.MediaDevices = true
	} else {
		logger.Debugw("sound server unavailable", "error", err)
	}

	if p.conf.Capture.Display != "" && caps.Recorder {
		caps.DisplayCapture = p.hasDevice(ctx, "x11grab")
	}

	return caps
}

// hasDevice checks the ffmpeg device list for a demuxer.
func (p *Provider) hasDevice(ctx context.Context, name string) bool {
	cmd := exec.CommandContext(ctx, p.conf.Capture.FFmpegPath, "-hide_banner", "-devices")
	var b bytes.Buffer
	cmd.Stdout = &b
	if err := cmd.Run(); err != nil {
		return false
	}
	return listsDevice(b.String(), name)
}

func listsDevice(output, name string) bool {
	for _, line := range strings.Split(output, "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 2 && strings.Contains(fields[0], "D") && fields[1] == name {
			return true
		}
	}
	return false
}

func (p *Provider) GetDisplayMedia(ctx context.Context, opts capture.DisplayOptions) (*capture.DisplayMedia, error) {
	display := p.conf.Capture.Display
	if display == "" {
		return nil, errors.ErrCaptureDenied("display", fmt.Errorf("no display set"))
	}

	dm := &capture.DisplayMedia{
		Video: media.NewDisplayTrack(fmt.Sprintf("display %s", display), media.VideoSettings{
			Display:   display,
			Width:     p.conf.Capture.Width,
			Height:    p.conf.Capture.Height,
			Framerate: p.conf.Capture.Framerate,
		}),
	}

	if opts.SystemAudio {
		monitor, err := DefaultMonitorSource(ctx)
		if err != nil {
			logger.Warnw("system audio unavailable", err)
			return dm, nil
		}
		audio, err := p.captureAudio("system audio", monitor)
		if err != nil {
			logger.Warnw("system audio unavailable", err)
			return dm, nil
		}
		dm.Audio = audio
	}

	return dm, nil
}

func (p *Provider) GetUserMedia(_ context.Context) (media.AudioTrack, error) {
	track, err := p.captureAudio("microphone", defaultSource)
	if err != nil {
		return nil, errors.ErrCaptureDenied("microphone", err)
	}
	return track, nil
}

func (p *Provider) IsTypeSupported(mimeType types.MimeType) bool {
	_, err := resolveCodecs(mimeType)
	return err == nil
}

func (p *Provider) NewEncoder(stream *media.Stream, opts capture.EncoderOptions, callbacks *capture.EncoderCallbacks) (capture.Encoder, error) {
	if stream == nil || stream.Video() == nil {
		return nil, errors.ErrEncoder(fmt.Errorf("stream has no video track"))
	}
	e, err := newEncoder(p.conf.Capture.FFmpegPath, stream, opts, callbacks, logging.NewCmdLogger("ffmpeg", p.conf.Debug))
	if err != nil {
		return nil, errors.ErrEncoder(err)
	}
	return e, nil
}
