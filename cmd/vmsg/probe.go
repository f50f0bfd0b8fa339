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

package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/oglimmer/vmsg/pkg/capture"
	"github.com/oglimmer/vmsg/pkg/capture/ffmpeg"
)

func runProbe(ctx context.Context, c *cli.Command) error {
	conf, err := getConfig(c)
	if err != nil {
		return err
	}

	provider := ffmpeg.NewProvider(conf)
	caps := provider.Capabilities(ctx)
	ffmpeg.LogStatus(ctx)

	rows := [][]string{
		{"media devices", status(caps.MediaDevices)},
		{"display capture", status(caps.DisplayCapture)},
		{"recorder", status(caps.Recorder)},
	}
	for _, mimeType := range conf.Recording.MimeTypes {
		rows = append(rows, []string{string(mimeType), status(provider.IsTypeSupported(mimeType))})
	}
	fmt.Println(renderTable([]string{"Capability", "Status"}, rows))

	return capture.Probe(caps).Err()
}

func status(ok bool) string {
	if ok {
		return "OK"
	}
	return "MISSING"
}
