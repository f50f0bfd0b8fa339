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
	"encoding/json"
	"errors"
	"os/exec"
	"strings"

	"github.com/livekit/protocol/logger"
)

const defaultSource = "default"

type PulseInfo struct {
	Sinks   []Device `json:"sinks"`
	Sources []Device `json:"sources"`
}

type Device struct {
	Index         int      `json:"index"`
	State         string   `json:"state"`
	Name          string   `json:"name"`
	Description   string   `json:"description"`
	Mute          bool     `json:"mute"`
	MonitorSource string   `json:"monitor_source"`
	Flags         []string `json:"flags"`
}

func pactl(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "pactl", args...)
	var b, e bytes.Buffer
	cmd.Stdout = &b
	cmd.Stderr = &e
	if err := cmd.Run(); err != nil {
		if e.Len() > 0 {
			return nil, errors.New(strings.TrimSpace(e.String()))
		}
		return nil, err
	}
	return b.Bytes(), nil
}

// PulseAvailable returns nil when a PulseAudio compatible sound server answers.
func PulseAvailable(ctx context.Context) error {
	_, err := pactl(ctx, "info")
	return err
}

func ListDevices(ctx context.Context) (*PulseInfo, error) {
	b, err := pactl(ctx, "--format", "json", "list", "sinks")
	if err != nil {
		return nil, err
	}
	sinks, err := parseDevices(b)
	if err != nil {
		return nil, err
	}

	b, err = pactl(ctx, "--format", "json", "list", "sources")
	if err != nil {
		return nil, err
	}
	sources, err := parseDevices(b)
	if err != nil {
		return nil, err
	}

	return &PulseInfo{Sinks: sinks, Sources: sources}, nil
}

func parseDevices(b []byte) ([]Device, error) {
	var devices []Device
	if err := json.Unmarshal(b, &devices); err != nil {
		return nil, err
	}
	return devices, nil
}

// DefaultMonitorSource returns the monitor of the default sink, which carries system audio.
func DefaultMonitorSource(ctx context.Context) (string, error) {
	b, err := pactl(ctx, "get-default-sink")
	if err != nil {
		return "", err
	}
	sink := strings.TrimSpace(string(b))

	info, err := ListDevices(ctx)
	if err != nil {
		logger.Debugw("failed to list pulse devices", "error", err)
		return sink + ".monitor", nil
	}
	return monitorFor(info, sink), nil
}

func monitorFor(info *PulseInfo, sink string) string {
	for _, s := range info.Sinks {
		if s.Name == sink && s.MonitorSource != "" {
			return s.MonitorSource
		}
	}
	return sink + ".monitor"
}

func LogStatus(ctx context.Context) {
	info, err := ListDevices(ctx)
	if err != nil {
		logger.Warnw("failed to list pulse info", err)
		return
	}
	logger.Debugw("pulse status",
		"sinks", len(info.Sinks),
		"sources", len(info.Sources),
	)
}
