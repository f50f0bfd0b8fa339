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
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/frostbyte73/core"
	"github.com/linkdata/deadlock"
	"go.uber.org/atomic"

	"github.com/livekit/protocol/logger"
	"github.com/oglimmer/vmsg/pkg/capture"
	"github.com/oglimmer/vmsg/pkg/errors"
	"github.com/oglimmer/vmsg/pkg/logging"
	"github.com/oglimmer/vmsg/pkg/media"
	"github.com/oglimmer/vmsg/pkg/types"
)

const (
	readChunkSize = 32 * 1024
	killTimeout   = 10 * time.Second
)

var _ capture.Encoder = (*Encoder)(nil)

// Encoder runs a single ffmpeg process that grabs the display, reads mixed audio
// from stdin and writes the container to stdout.
type Encoder struct {
	path      string
	args      []string
	stream    *media.Stream
	opts      capture.EncoderOptions
	callbacks *capture.EncoderCallbacks
	cmdLogger *logging.CmdLogger

	ctx    context.Context
	cancel context.CancelFunc

	mu      deadlock.Mutex
	cmd     *exec.Cmd
	pending []byte

	// serializes delivery so fragments keep their order
	flushMu deadlock.Mutex

	state    atomic.String
	started  core.Fuse
	stopping core.Fuse
	done     core.Fuse
}

func newEncoder(path string, stream *media.Stream, opts capture.EncoderOptions, callbacks *capture.EncoderCallbacks, debug *logging.CmdLogger) (*Encoder, error) {
	var format *media.AudioFormat
	if audio := stream.Audio(); audio != nil {
		f := audio.Format()
		format = &f
	}

	args, err := encoderArgs(stream.Video().Settings(), format, opts.MimeType)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Encoder{
		path:      path,
		args:      args,
		stream:    stream,
		opts:      opts,
		callbacks: callbacks,
		cmdLogger: debug,
		ctx:       ctx,
		cancel:    cancel,
	}
	e.state.Store(string(types.EncoderStateInactive))
	return e, nil
}

func (e *Encoder) Start() error {
	if e.started.IsBroken() {
		return errors.ErrEncoder(fmt.Errorf("encoder already started"))
	}
	e.started.Break()

	cmd := exec.Command(e.path, e.args...)
	cmd.Stderr = e.cmdLogger
	// a terminal interrupt must not reach ffmpeg before Stop does
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	var stdin io.WriteCloser
	var err error
	if e.stream.Audio() != nil {
		if stdin, err = cmd.StdinPipe(); err != nil {
			return errors.ErrEncoder(err)
		}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return errors.ErrEncoder(err)
	}

	logger.Debugw("starting ffmpeg encoder", "args", e.args)
	if err = cmd.Start(); err != nil {
		return errors.ErrEncoder(err)
	}

	e.mu.Lock()
	e.cmd = cmd
	e.mu.Unlock()
	e.state.Store(string(types.EncoderStateRecording))

	readDone := make(chan struct{})
	go func() {
		e.readOutput(stdout)
		close(readDone)
	}()
	if stdin != nil {
		go e.feedAudio(stdin)
	}
	if e.opts.Timeslice > 0 {
		go e.emitSlices()
	}
	go e.wait(cmd, readDone)

	return nil
}

func (e *Encoder) Stop() {
	if e.State() != types.EncoderStateRecording {
		return
	}

	e.stopping.Once(func() {
		e.cancel()

		e.mu.Lock()
		cmd := e.cmd
		e.mu.Unlock()

		// ffmpeg finalizes the container on interrupt
		_ = cmd.Process.Signal(os.Interrupt)
		time.AfterFunc(killTimeout, func() {
			if !e.done.IsBroken() {
				logger.Warnw("ffmpeg did not exit, killing", nil)
				_ = cmd.Process.Kill()
			}
		})
	})
}

func (e *Encoder) RequestData() {
	if e.State() != types.EncoderStateRecording {
		return
	}
	go e.flush()
}

func (e *Encoder) State() types.EncoderState {
	return types.EncoderState(e.state.Load())
}

func (e *Encoder) MimeType() types.MimeType {
	return e.opts.MimeType
}

func (e *Encoder) readOutput(stdout io.Reader) {
	buf := make([]byte, readChunkSize)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			e.mu.Lock()
			e.pending = append(e.pending, buf[:n]...)
			e.mu.Unlock()
		}
		if err != nil {
			return
		}
	}
}

func (e *Encoder) feedAudio(stdin io.WriteCloser) {
	defer stdin.Close()

	audio := e.stream.Audio()
	for {
		samples, err := audio.ReadSamples(e.ctx)
		if err != nil {
			return
		}
		if err = binary.Write(stdin, binary.LittleEndian, samples); err != nil {
			return
		}
	}
}

func (e *Encoder) emitSlices() {
	ticker := time.NewTicker(e.opts.Timeslice)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			e.flush()
		}
	}
}

func (e *Encoder) flush() {
	e.flushMu.Lock()
	defer e.flushMu.Unlock()

	e.mu.Lock()
	data := e.pending
	e.pending = nil
	e.mu.Unlock()

	if len(data) > 0 {
		e.callbacks.OnDataAvailable(data)
	}
}

func (e *Encoder) wait(cmd *exec.Cmd, readDone <-chan struct{}) {
	<-readDone
	err := cmd.Wait()
	e.cancel()

	e.state.Store(string(types.EncoderStateInactive))
	e.flush()
	_ = e.cmdLogger.Close()
	e.done.Break()

	switch {
	case e.stopping.IsBroken():
		logger.Debugw("ffmpeg encoder stopped", "error", err)
		e.callbacks.OnStopped()
	case err == nil:
		// display or stdin closed underneath us
		e.callbacks.OnStopped()
	default:
		if last := e.cmdLogger.LastError(); last != "" {
			err = fmt.Errorf("%w: %s", err, last)
		}
		e.callbacks.OnError(errors.ErrEncoder(err))
	}
}
