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
	"os/signal"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/mattn/go-isatty"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v3"

	"github.com/livekit/protocol/logger"
	"github.com/oglimmer/vmsg/pkg/api"
	"github.com/oglimmer/vmsg/pkg/capture/ffmpeg"
	"github.com/oglimmer/vmsg/pkg/config"
	"github.com/oglimmer/vmsg/pkg/errors"
	"github.com/oglimmer/vmsg/pkg/load"
	"github.com/oglimmer/vmsg/pkg/recorder"
	"github.com/oglimmer/vmsg/pkg/stats"
	"github.com/oglimmer/vmsg/pkg/uploader"
)

const stopGrace = time.Second * 5

func runRecord(ctx context.Context, c *cli.Command) error {
	conf, err := getConfig(c)
	if err != nil {
		return err
	}

	lock := flock.New(conf.Recording.LockFile)
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !locked {
		return errors.ErrRecorderLocked
	}
	defer func() {
		_ = lock.Unlock()
	}()

	monitor := stats.NewMonitor(prometheus.DefaultRegisterer)
	startMetricsServer(conf.PrometheusPort)

	session := recorder.New(ctx, conf, ffmpeg.NewProvider(conf), recorder.WithMonitor(monitor))
	defer session.Close()

	interactive := isTerminal(os.Stdout)
	if interactive {
		session.OnTick(func(seconds int) {
			fmt.Printf("\r\x1b[31m●\x1b[0m REC %s ", recorder.Format(seconds))
		})
	}

	if err = session.Start(ctx); err != nil {
		return err
	}
	fmt.Printf("Recording %s, press Ctrl+C to stop\n", session.MimeType())
	go load.MonitorCPULoad(ctx, session.ID(), time.Second, session.Done())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var artifact *recorder.Artifact
	select {
	case sig := <-sigChan:
		logger.Infow("stop requested", "signal", sig)
		stopCtx, cancel := context.WithTimeout(ctx, conf.Recording.StopTimeout+conf.Recording.FlushTimeout+stopGrace)
		artifact, err = session.Stop(stopCtx)
		cancel()
		if errors.Is(err, errors.ErrAlreadyStopped) {
			// the session ended on its own while the signal was delivered
			<-session.Done()
			artifact, err = session.Result()
		}
	case <-session.Done():
		artifact, err = session.Result()
	}
	if interactive {
		fmt.Println()
	}
	if err != nil {
		return err
	}

	fmt.Printf("Recorded %s (%d bytes)\n", recorder.Format(int(artifact.Duration.Seconds())), artifact.Size())
	if artifact.PreviewURL != "" {
		fmt.Printf("Preview: %s\n", artifact.PreviewURL)
	}
	if c.Bool("no-upload") {
		return nil
	}

	return uploadArtifact(ctx, c, conf.API, conf.Storage, artifact, monitor, interactive)
}

func uploadArtifact(
	ctx context.Context,
	c *cli.Command,
	apiConf config.APIConfig,
	storage *config.StorageConfig,
	artifact *recorder.Artifact,
	monitor *stats.Monitor,
	interactive bool,
) error {
	client := api.NewClient(apiConf)
	up := uploader.New(client, storage, monitor)

	done := make(chan struct{})
	printed := make(chan struct{})
	if interactive {
		go func() {
			defer close(printed)
			ticker := time.NewTicker(time.Millisecond * 250)
			defer ticker.Stop()
			for {
				select {
				case <-done:
					return
				case <-ticker.C:
					fmt.Printf("\rUploading... %d%%", up.State().Progress)
				}
			}
		}()
	}

	res, err := up.Upload(ctx, artifact)
	close(done)
	if interactive {
		<-printed
		fmt.Println()
	}
	if err != nil {
		return err
	}

	if res.Backup {
		fmt.Printf("Upload failed, recording saved to %s\n", res.Location)
		return nil
	}

	fmt.Printf("Uploaded %s\n", res.Recording.UUID)
	fmt.Printf("Watch: %s\n", res.Location)
	if c.Bool("wait") {
		detail, err := client.WaitForProcessing(ctx, res.Recording.UUID, apiConf.PollInterval)
		if err != nil {
			return err
		}
		printRecording(detail, client.StreamURL(detail.UUID))
	}
	return nil
}

func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
