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

package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/livekit/protocol/logger"
	"github.com/oglimmer/vmsg/pkg/errors"
	"github.com/oglimmer/vmsg/pkg/types"
)

const (
	defaultAPIBaseURL    = "http://localhost:8080/api"
	defaultStopTimeout   = time.Second * 3
	defaultFlushTimeout  = time.Millisecond * 500
	defaultSampleRate    = 48000
	defaultChannels      = 2
	defaultFrameDuration = time.Millisecond * 20
	defaultWidth         = 1920
	defaultHeight        = 1080
	defaultFramerate     = 30
	defaultPollInterval  = time.Second * 2

	envAPIBaseURL = "VMSG_API_BASE_URL"
)

type Config struct {
	Logging        *logger.Config `yaml:"logging"`         // logging config
	PrometheusPort int            `yaml:"prometheus_port"` // prometheus handler port, 0 to disable

	API       APIConfig       `yaml:"api"`       // vmsg backend
	Recording RecordingConfig `yaml:"recording"` // session and stop finalization
	Mixer     MixerConfig     `yaml:"mixer"`     // audio mixing graph
	Capture   CaptureConfig   `yaml:"capture"`   // capture provider

	// optional
	Storage *StorageConfig `yaml:"storage,omitempty"` // backup storage, used when the backend upload fails
	Debug   DebugConfig    `yaml:"debug"`
}

type APIConfig struct {
	BaseURL      string        `yaml:"base_url"`      // (env VMSG_API_BASE_URL)
	Timeout      time.Duration `yaml:"timeout"`       // per request timeout, 0 for none
	PollInterval time.Duration `yaml:"poll_interval"` // metadata polling interval for watch --wait
}

type RecordingConfig struct {
	MimeTypes    []types.MimeType `yaml:"mime_types"`    // negotiation order
	StopTimeout  time.Duration    `yaml:"stop_timeout"`  // wait for the encoder stopped signal before flushing
	FlushTimeout time.Duration    `yaml:"flush_timeout"` // wait after a flush request before force finalizing
	MaxDuration  time.Duration    `yaml:"max_duration"`  // stop automatically after this long, 0 to disable
	PreviewDir   string           `yaml:"preview_dir"`   // where artifacts are written for preview
	LockFile     string           `yaml:"lock_file"`     // single recorder per user
}

type MixerConfig struct {
	SampleRate    int           `yaml:"sample_rate"`
	Channels      int           `yaml:"channels"`
	FrameDuration time.Duration `yaml:"frame_duration"`
	Normalize     bool          `yaml:"normalize"` // divide the sum by the number of sources
}

type CaptureConfig struct {
	Provider    string        `yaml:"provider"`     // ffmpeg
	FFmpegPath  string        `yaml:"ffmpeg_path"`  // defaults to ffmpeg on PATH
	Display     string        `yaml:"display"`      // (env DISPLAY)
	Width       int           `yaml:"width"`        // capture width
	Height      int           `yaml:"height"`       // capture height
	Framerate   int           `yaml:"framerate"`    // capture framerate
	SystemAudio bool          `yaml:"system_audio"` // capture the default sink monitor
	Microphone  bool          `yaml:"microphone"`   // capture the default source
	Timeslice   time.Duration `yaml:"timeslice"`    // emit encoded data at this interval, 0 buffers until stop
}

type DebugConfig struct {
	FFmpegLogDir  string `yaml:"ffmpeg_log_dir"`  // write ffmpeg stderr to rotating files
	FFmpegLogSize int    `yaml:"ffmpeg_log_size"` // megabytes per log file
}

func NewConfig(confString string) (*Config, error) {
	conf := &Config{
		Logging: &logger.Config{
			Level: "info",
		},
		API: APIConfig{
			BaseURL:      defaultAPIBaseURL,
			PollInterval: defaultPollInterval,
		},
		Capture: CaptureConfig{
			Provider:    "ffmpeg",
			SystemAudio: true,
			Microphone:  true,
		},
	}

	if confString != "" {
		if err := yaml.Unmarshal([]byte(confString), conf); err != nil {
			return nil, errors.ErrCouldNotParseConfig(err)
		}
	}

	conf.applyEnvOverrides()
	conf.applyDefaults()
	if err := conf.validate(); err != nil {
		return nil, err
	}

	if err := conf.initLogger(); err != nil {
		return nil, err
	}

	return conf, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(envAPIBaseURL); v != "" {
		c.API.BaseURL = v
	}
	if c.Capture.Display == "" {
		c.Capture.Display = os.Getenv("DISPLAY")
	}
}

func (c *Config) applyDefaults() {
	c.API.BaseURL = strings.TrimSuffix(c.API.BaseURL, "/")
	if c.API.PollInterval <= 0 {
		c.API.PollInterval = defaultPollInterval
	}

	if len(c.Recording.MimeTypes) == 0 {
		c.Recording.MimeTypes = types.DefaultMimeTypes
	}
	if c.Recording.StopTimeout <= 0 {
		c.Recording.StopTimeout = defaultStopTimeout
	}
	if c.Recording.FlushTimeout <= 0 {
		c.Recording.FlushTimeout = defaultFlushTimeout
	}
	if c.Recording.PreviewDir == "" {
		c.Recording.PreviewDir = os.TempDir()
	}
	if c.Recording.LockFile == "" {
		c.Recording.LockFile = filepath.Join(os.TempDir(), "vmsg.lock")
	}

	c.Mixer.applyDefaults()

	if c.Capture.FFmpegPath == "" {
		c.Capture.FFmpegPath = "ffmpeg"
	}
	if c.Capture.Width == 0 {
		c.Capture.Width = defaultWidth
	}
	if c.Capture.Height == 0 {
		c.Capture.Height = defaultHeight
	}
	if c.Capture.Framerate == 0 {
		c.Capture.Framerate = defaultFramerate
	}

	if c.Debug.FFmpegLogSize == 0 {
		c.Debug.FFmpegLogSize = 10
	}
}

func (m *MixerConfig) applyDefaults() {
	if m.SampleRate == 0 {
		m.SampleRate = defaultSampleRate
	}
	if m.Channels == 0 {
		m.Channels = defaultChannels
	}
	if m.FrameDuration <= 0 {
		m.FrameDuration = defaultFrameDuration
	}
}

func (c *Config) validate() error {
	errs := &errors.ErrArray{}
	if c.API.BaseURL == "" {
		errs.AppendErr(errors.ErrInvalidConfig("api.base_url"))
	}
	if c.Capture.Provider != "ffmpeg" {
		errs.AppendErr(errors.ErrInvalidConfig("capture.provider"))
	}
	if c.Capture.Width < 0 || c.Capture.Height < 0 || c.Capture.Framerate < 0 {
		errs.AppendErr(errors.ErrInvalidConfig("capture.width/height/framerate"))
	}
	if c.Capture.Width%2 != 0 || c.Capture.Height%2 != 0 {
		// yuv420p needs even dimensions
		errs.AppendErr(errors.ErrInvalidConfig("capture.width/height"))
	}
	if c.Mixer.Channels < 1 || c.Mixer.Channels > 2 {
		errs.AppendErr(errors.ErrInvalidConfig("mixer.channels"))
	}
	if c.Mixer.SampleRate < 0 || c.Mixer.FrameSamples() < 1 {
		// a frame must hold at least one sample
		errs.AppendErr(errors.ErrInvalidConfig("mixer.sample_rate/frame_duration"))
	}
	if c.Storage != nil {
		errs.Check(c.Storage.validate())
	}

	if err := errs.ToError(); err != nil {
		return err
	}
	return nil
}

func (c *Config) initLogger(values ...interface{}) error {
	zl, err := logger.NewZapLogger(c.Logging)
	if err != nil {
		return err
	}

	l := zl.WithValues(values...)
	logger.SetLogger(l, "vmsg")
	return nil
}

// FrameSamples is the number of samples per channel in one mixer frame.
func (m *MixerConfig) FrameSamples() int {
	return int(int64(m.SampleRate) * int64(m.FrameDuration) / int64(time.Second))
}
