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
	"os"

	"github.com/urfave/cli/v3"

	"github.com/oglimmer/vmsg/pkg/config"
	"github.com/oglimmer/vmsg/version"
)

func main() {
	cmd := &cli.Command{
		Name:        "vmsg",
		Usage:       "record the screen and share it as a video message",
		Version:     version.Version,
		Description: "records the display with system audio and microphone, then uploads the recording",
		Commands: []*cli.Command{
			{
				Name:  "record",
				Usage: "record until interrupted, then upload",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "no-upload",
						Usage: "keep the recording local",
					},
					&cli.BoolFlag{
						Name:  "wait",
						Usage: "wait for backend processing after the upload",
					},
				},
				Action: runRecord,
			},
			{
				Name:      "watch",
				Usage:     "show a recording and its stream url",
				ArgsUsage: "<id>",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "wait",
						Usage: "poll until processing completes",
					},
				},
				Action: runWatch,
			},
			{
				Name:   "probe",
				Usage:  "check whether this environment can record",
				Action: runProbe,
			},
		},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "vmsg yaml config file",
				Sources: cli.EnvVars("VMSG_CONFIG_FILE"),
			},
			&cli.StringFlag{
				Name:    "config-body",
				Usage:   "vmsg yaml config body",
				Sources: cli.EnvVars("VMSG_CONFIG_BODY"),
			},
		},
		Action: runRecord,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func getConfig(c *cli.Command) (*config.Config, error) {
	configFile := c.String("config")
	configBody := c.String("config-body")
	if configBody == "" && configFile != "" {
		content, err := os.ReadFile(configFile)
		if err != nil {
			return nil, err
		}
		configBody = string(content)
	}

	return config.NewConfig(configBody)
}
