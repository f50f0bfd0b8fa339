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
	"fmt"
	"strconv"

	"github.com/oglimmer/vmsg/pkg/media"
	"github.com/oglimmer/vmsg/pkg/types"
)

type codecSet struct {
	container []string
	video     []string
	audio     []string
}

var (
	containerArgs = map[types.MimeType][]string{
		types.MimeTypeWebM: {"-f", "webm"},
		types.MimeTypeMP4:  {"-f", "mp4", "-movflags", "frag_keyframe+empty_moov+default_base_moof"},
	}

	videoCodecArgs = map[string][]string{
		"vp8":  {"-c:v", "libvpx", "-deadline", "realtime", "-cpu-used", "8", "-b:v", "2M"},
		"vp9":  {"-c:v", "libvpx-vp9", "-deadline", "realtime", "-cpu-used", "8", "-row-mt", "1", "-b:v", "2M"},
		"h264": {"-c:v", "libx264", "-preset", "veryfast", "-tune", "zerolatency"},
	}

	audioCodecArgs = map[string][]string{
		"opus": {"-c:a", "libopus", "-b:a", "128k"},
		"aac":  {"-c:a", "aac", "-b:a", "128k"},
	}
)

// resolveCodecs maps a mime type onto ffmpeg muxer and encoder arguments.
func resolveCodecs(mimeType types.MimeType) (*codecSet, error) {
	container, ok := containerArgs[mimeType.BaseType()]
	if !ok {
		return nil, fmt.Errorf("unsupported container %s", mimeType.BaseType())
	}

	cs := &codecSet{container: container}
	for _, codec := range mimeType.Codecs() {
		if args, ok := videoCodecArgs[codec]; ok && cs.video == nil {
			cs.video = args
		} else if args, ok = audioCodecArgs[codec]; ok && cs.audio == nil {
			cs.audio = args
		} else {
			return nil, fmt.Errorf("unsupported codec %s", codec)
		}
	}
	if cs.video == nil {
		return nil, fmt.Errorf("no video codec for %s", mimeType)
	}
	return cs, nil
}

func encoderArgs(video media.VideoSettings, audio *media.AudioFormat, mimeType types.MimeType) ([]string, error) {
	cs, err := resolveCodecs(mimeType)
	if err != nil {
		return nil, err
	}

	args := []string{"-hide_banner", "-loglevel", "warning"}
	if audio == nil {
		args = append(args, "-nostdin")
	}

	// display input
	args = append(args,
		"-f", "x11grab",
		"-video_size", fmt.Sprintf("%dx%d", video.Width, video.Height),
		"-framerate", strconv.Itoa(video.Framerate),
		"-i", video.Display,
	)

	// mixed audio on stdin
	if audio != nil {
		args = append(args,
			"-f", "s16le",
			"-ar", strconv.Itoa(audio.SampleRate),
			"-ac", strconv.Itoa(audio.Channels),
			"-i", "pipe:0",
			"-map", "0:v", "-map", "1:a",
		)
	}

	args = append(args, cs.video...)
	args = append(args, "-pix_fmt", "yuv420p")
	if audio != nil && cs.audio != nil {
		args = append(args, cs.audio...)
	}
	args = append(args, cs.container...)
	return append(args, "pipe:1"), nil
}

func audioArgs(device string, format media.AudioFormat) []string {
	return []string{
		"-hide_banner", "-loglevel", "warning", "-nostdin",
		"-f", "pulse",
		"-i", device,
		"-ac", strconv.Itoa(format.Channels),
		"-ar", strconv.Itoa(format.SampleRate),
		"-f", "s16le",
		"pipe:1",
	}
}
