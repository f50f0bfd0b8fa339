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

package recorder

import (
	"bytes"
	"context"
	"time"

	"github.com/frostbyte73/core"

	"github.com/livekit/protocol/logger"
	"github.com/livekit/protocol/tracer"
	"github.com/oglimmer/vmsg/pkg/capture"
	"github.com/oglimmer/vmsg/pkg/errors"
	"github.com/oglimmer/vmsg/pkg/stats"
	"github.com/oglimmer/vmsg/pkg/types"
)

// pendingStop is resolved exactly once, by whichever completion path runs first.
type pendingStop struct {
	resolved core.Fuse
	timer    *time.Timer

	artifact *Artifact
	err      error
}

func (p *pendingStop) resolve(artifact *Artifact, err error) {
	p.artifact = artifact
	p.err = err
	p.resolved.Break()
}

func (p *pendingStop) wait(ctx context.Context) (*Artifact, error) {
	select {
	case <-p.resolved.Watch():
		return p.artifact, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stop asks the encoder to stop and waits for finalization. The encoder's stopped
// signal completes the stop. Without it, data is requested once after the stop timeout
// and whatever was buffered is finalized after the flush timeout.
// A Stop issued while another is pending shares its outcome. Cancelling ctx returns
// early but does not abort finalization.
func (s *Session) Stop(ctx context.Context) (*Artifact, error) {
	ctx, span := tracer.Start(ctx, "Session.Stop")
	defer span.End()

	p, err := s.beginStop(0)
	if err != nil {
		return nil, err
	}
	return p.wait(ctx)
}

// beginStop registers the pending stop and stops the encoder. A non-zero gen only
// stops that session.
func (s *Session) beginStop(gen uint64) (*pendingStop, error) {
	s.mu.Lock()
	if gen != 0 && gen != s.gen {
		s.mu.Unlock()
		return nil, errors.ErrSessionClosed
	}
	if s.pending != nil {
		p := s.pending
		s.mu.Unlock()
		return p, nil
	}
	if s.encoder == nil {
		s.mu.Unlock()
		return nil, errors.ErrNoActiveSession
	}
	if s.state != types.SessionStateRecording || s.encoder.State() != types.EncoderStateRecording {
		s.mu.Unlock()
		return nil, errors.ErrAlreadyStopped
	}

	p := &pendingStop{}
	s.pending = p
	s.state = types.SessionStateStopping
	if s.limitTimer != nil {
		s.limitTimer.Stop()
		s.limitTimer = nil
	}

	gen = s.gen
	encoder := s.encoder
	p.timer = time.AfterFunc(s.conf.Recording.StopTimeout, func() {
		s.onStopTimeout(gen, p)
	})
	s.mu.Unlock()

	logger.Debugw("stopping recording", "sessionID", s.ID())
	encoder.Stop()
	return p, nil
}

func (s *Session) onStopped(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.gen != gen {
		return
	}

	switch s.state {
	case types.SessionStateRecording:
		// encoder stopped by itself, finalize what it produced
		logger.Infow("encoder stopped without a stop request", "sessionID", s.id)
		s.finalizeLocked(stats.FinalizeSignal)
	case types.SessionStateStopping:
		s.finalizeLocked(stats.FinalizeSignal)
	default:
		logger.Debugw("ignoring late stopped signal", "sessionID", s.id, "state", s.state)
	}
}

func (s *Session) onStopTimeout(gen uint64, p *pendingStop) {
	s.mu.Lock()
	if s.gen != gen || s.pending != p {
		s.mu.Unlock()
		return
	}

	encoder := s.encoder
	if encoder.State() != types.EncoderStateRecording {
		logger.Debugw("stopped signal timed out", "sessionID", s.id)
		s.finalizeLocked(stats.FinalizeFallback)
		s.mu.Unlock()
		return
	}

	logger.Debugw("stopped signal timed out, requesting data", "sessionID", s.id)
	p.timer = time.AfterFunc(s.conf.Recording.FlushTimeout, func() {
		s.onFlushTimeout(gen, p)
	})
	s.mu.Unlock()

	encoder.RequestData()
}

func (s *Session) onFlushTimeout(gen uint64, p *pendingStop) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.gen != gen || s.pending != p {
		return
	}
	logger.Debugw("forcing finalization", "sessionID", s.id)
	s.finalizeLocked(stats.FinalizeFallback)
}

func (s *Session) onEncoderError(gen uint64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.gen != gen || !s.state.IsActive() {
		return
	}
	if !errors.Is(err, errors.ErrEncoderFailed) {
		err = errors.ErrEncoder(err)
	}

	p := s.takePendingLocked()
	s.failLocked(err)
	if p != nil {
		s.monitor.IncFinalized(stats.FinalizeError)
		p.resolve(nil, err)
	}
}

// finalizeLocked drains the fragment buffer into an artifact and resolves the pending stop.
// An empty buffer fails the session with ErrNoDataRecorded.
func (s *Session) finalizeLocked(path string) {
	p := s.takePendingLocked()
	data := bytes.Join(s.fragments, nil)
	s.fragments = nil

	var artifact *Artifact
	var err error
	if len(data) == 0 {
		err = s.failLocked(errors.ErrNoDataRecorded)
	} else {
		artifact = &Artifact{
			SessionID: s.id,
			Data:      data,
			MimeType:  s.mimeType,
			Duration:  time.Since(s.startedAt),
			CreatedAt: time.Now(),
		}
		if artifact.PreviewURL, err = s.previewer.Publish(artifact); err != nil {
			logger.Warnw("failed to publish preview", err, "sessionID", s.id)
			err = nil
		}

		s.state = types.SessionStateStopped
		s.artifact = artifact
		s.cleanupLocked()
		s.closeDoneLocked()
		s.monitor.IncSessionEnded(types.SessionStateStopped)
		s.monitor.ObserveArtifactSize(len(data))
		logger.Infow("recording stopped",
			"sessionID", s.id,
			"size", len(data),
			"elapsed", Format(s.timer.Elapsed()),
			"path", path,
		)
	}

	s.monitor.IncFinalized(path)
	if p != nil {
		p.resolve(artifact, err)
	}
}

// takePendingLocked clears the pending stop and cancels its timer.
func (s *Session) takePendingLocked() *pendingStop {
	p := s.pending
	s.pending = nil
	if p != nil && p.timer != nil {
		p.timer.Stop()
	}
	return p
}

// cleanupLocked releases the stream, the mixing graph and the timers.
func (s *Session) cleanupLocked() {
	if s.limitTimer != nil {
		s.limitTimer.Stop()
		s.limitTimer = nil
	}
	s.timer.Stop()

	if s.stream != nil {
		s.stream.Stop()
		s.stream = nil
	}
	if s.mixer != nil {
		s.mixer.Close()
		s.mixer = nil
	}
}

// Close tears down any active session and releases the last preview.
func (s *Session) Close() {
	s.mu.Lock()
	var encoder capture.Encoder
	if s.state.IsActive() {
		encoder = s.encoder
		p := s.takePendingLocked()
		s.failLocked(errors.ErrSessionClosed)
		if p != nil {
			p.resolve(nil, errors.ErrSessionClosed)
		}
	}
	artifact := s.artifact
	s.artifact = nil
	s.mu.Unlock()

	if encoder != nil && encoder.State() == types.EncoderStateRecording {
		encoder.Stop()
	}
	if artifact != nil && artifact.PreviewURL != "" {
		s.previewer.Release(artifact.PreviewURL)
	}
}
