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
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/urfave/cli/v3"

	"github.com/oglimmer/vmsg/pkg/api"
	"github.com/oglimmer/vmsg/pkg/errors"
	"github.com/oglimmer/vmsg/pkg/recorder"
)

func runWatch(ctx context.Context, c *cli.Command) error {
	id := c.Args().First()
	if id == "" {
		return errors.New("missing recording id")
	}

	conf, err := getConfig(c)
	if err != nil {
		return err
	}

	client := api.NewClient(conf.API)

	var detail *api.RecordingDetail
	if c.Bool("wait") {
		detail, err = client.WaitForProcessing(ctx, id, conf.API.PollInterval)
	} else {
		detail, err = client.GetRecording(ctx, id)
	}
	if err != nil {
		return err
	}

	printRecording(detail, client.StreamURL(detail.UUID))
	return nil
}

func printRecording(detail *api.RecordingDetail, streamURL string) {
	rows := [][]string{
		{"ID", detail.UUID},
		{"File", detail.Filename},
		{"Size", fmt.Sprintf("%d bytes", detail.FileSize)},
		{"Type", detail.ContentType},
		{"Status", string(detail.ProcessingStatus)},
	}
	if created, err := detail.CreatedTime(); err == nil {
		rows = append(rows, []string{"Created", created.Format(time.DateTime)})
	}
	if detail.Duration != nil {
		rows = append(rows, []string{"Duration", recorder.Format(int(*detail.Duration))})
	}
	if detail.ProcessingError != "" {
		rows = append(rows, []string{"Error", detail.ProcessingError})
	}
	rows = append(rows, []string{"Stream", streamURL})

	fmt.Println(renderTable(nil, rows))
}

func renderTable(header []string, rows [][]string) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	if len(header) > 0 {
		h := make(table.Row, len(header))
		for i, v := range header {
			h[i] = v
		}
		tw.AppendHeader(h)
	}
	for _, row := range rows {
		r := make(table.Row, len(row))
		for i, v := range row {
			r[i] = v
		}
		tw.AppendRow(r)
	}
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignLeft, AlignHeader: text.AlignLeft},
	})

	return tw.Render()
}
