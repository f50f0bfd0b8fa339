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
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/linkdata/deadlock"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/livekit/protocol/logger"
	"github.com/livekit/protocol/tracer"
	"github.com/oglimmer/vmsg/pkg/capture"
	"github.com/oglimmer/vmsg/pkg/config"
	"github.com/oglimmer/vmsg/pkg/errors"
	"github.com/oglimmer/vmsg/pkg/media"
	"github.com/oglimmer/vmsg/pkg/stats"
	"github.com/oglimmer/vmsg/pkg/types"
)

// Session records the display with mixed system and microphone audio.
// One session is active at a time; Start after Stopped or Failed begins a fresh one.
type Session struct {
	conf      *config.Config
	provider  capture.Provider
	previewer Previewer
	monitor   *stats.Monitor
	probe     capture.ProbeResult
	timer     *Timer

	mu         deadlock.Mutex
	gen        uint64
	id         string
	state      types.SessionState
	err        error
	startedAt  time.Time
	mimeType   types.MimeType
	mixer      *media.Mixer
	stream     *media.Stream
	encoder    capture.Encoder
	fragments  [][]byte
	artifact   *Artifact
	pending    *pendingStop
	limitTimer *time.Timer
	done       chan struct{}
}

type Option func(*Session)

func WithPreviewer(p Previewer) Option {
	return func(s *Session) {
		s.previewer = p
	}
}

func WithMonitor(m *stats.Monitor) Option {
	return func(s *Session) {
		s.monitor = m
	}
}

// New probes the provider once. An unsupported environment is reported by Err and by every Start.
func New(ctx context.Context, conf *config.Config, provider capture.Provider, opts ...Option) *Session {
	s := &Session{
		conf:     conf,
		provider: provider,
		timer:    NewTimer(),
		state:    types.SessionStateIdle,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.previewer == nil {
		s.previewer = NewFilePreviewer(conf.Recording.PreviewDir)
	}
	if s.monitor == nil {
		s.monitor = stats.NewMonitor(prometheus.NewRegistry())
	}

	s.probe = capture.Probe(provider.Capabilities(ctx))
	if !s.probe.Supported {
		s.err = s.probe.Err()
		logger.Warnw("screen recording unsupported", s.err)
	}

	return s
}

func (s *Session) Probe() capture.ProbeResult {
	return s.probe
}

func (s *Session) Start(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "Session.Start")
	defer span.End()

	s.mu.Lock()
	if s.state.IsActive() {
		s.mu.Unlock()
		return errors.ErrSessionInProgress
	}

	s.gen++
	gen := s.gen
	previous := s.artifact
	s.id = uuid.NewString()
	s.err = nil
	s.fragments = nil
	s.artifact = nil
	s.encoder = nil
	s.done = make(chan struct{})

	// the previous artifact is dropped whether or not this start succeeds
	if previous != nil && previous.PreviewURL != "" {
		defer s.previewer.Release(previous.PreviewURL)
	}

	if !s.probe.Supported {
		err := s.failLocked(s.probe.Err())
		s.mu.Unlock()
		return err
	}

	mimeType, err := s.negotiateMimeType()
	if err != nil {
		err = s.failLocked(err)
		s.mu.Unlock()
		return err
	}

	s.state = types.SessionStateStarting
	s.mimeType = mimeType
	sessionID := s.id
	s.mu.Unlock()
	logger.Debugw("starting recording", "sessionID", sessionID, "mimeType", mimeType)

	dm, err := s.provider.GetDisplayMedia(ctx, capture.DisplayOptions{SystemAudio: s.conf.Capture.SystemAudio})
	if err != nil {
		if !errors.Is(err, errors.ErrPermissionDenied) && !errors.Is(err, errors.ErrUnsupportedEnvironment) {
			err = errors.ErrCaptureDenied("display", err)
		}
		return s.failStart(gen, err)
	}

	var sources []media.AudioTrack
	if dm.Audio != nil {
		sources = append(sources, dm.Audio)
	}
	if s.conf.Capture.Microphone {
		mic, err := s.provider.GetUserMedia(ctx)
		if err != nil {
			logger.Warnw("microphone unavailable, recording without it", err, "sessionID", sessionID)
		} else {
			sources = append(sources, mic)
		}
	}

	mixer := media.NewMixer(s.conf.Mixer)
	stream := media.Compose(dm.Video, mixer.Mix(sources))

	callbacks := &capture.EncoderCallbacks{}
	callbacks.SetOnDataAvailable(func(data []byte) { s.onDataAvailable(gen, data) })
	callbacks.SetOnStopped(func() { s.onStopped(gen) })
	callbacks.SetOnError(func(err error) { s.onEncoderError(gen, err) })

	encoder, err := s.provider.NewEncoder(stream, capture.EncoderOptions{
		MimeType:  mimeType,
		Timeslice: s.conf.Capture.Timeslice,
	}, callbacks)
	if err != nil {
		stream.Stop()
		mixer.Close()
		return s.failStart(gen, errors.ErrEncoder(err))
	}

	s.mu.Lock()
	if s.gen != gen || s.state != types.SessionStateStarting {
		s.mu.Unlock()
		stream.Stop()
		mixer.Close()
		return errors.ErrSessionClosed
	}

	s.mixer = mixer
	s.stream = stream
	s.encoder = encoder
	s.fragments = nil

	if err = encoder.Start(); err != nil {
		err = s.failLocked(errors.ErrEncoder(err))
		s.mu.Unlock()
		return err
	}

	s.state = types.SessionStateRecording
	s.startedAt = time.Now()
	s.timer.Start()
	s.startLimitTimer(gen)
	s.mu.Unlock()

	dm.Video.OnEnded(func() { s.onVideoEnded(gen) })

	s.monitor.IncSessionStarted()
	logger.Infow("recording started",
		"sessionID", sessionID,
		"mimeType", mimeType,
		"audioSources", len(sources),
	)
	return nil
}

// negotiateMimeType picks the first configured type the provider can encode.
func (s *Session) negotiateMimeType() (types.MimeType, error) {
	for _, mimeType := range s.conf.Recording.MimeTypes {
		if s.provider.IsTypeSupported(mimeType) {
			return mimeType, nil
		}
	}
	return "", errors.ErrUnsupported(errors.ErrNoSupportedMimeType.Error())
}

func (s *Session) startLimitTimer(gen uint64) {
	if s.conf.Recording.MaxDuration <= 0 {
		return
	}

	s.limitTimer = time.AfterFunc(s.conf.Recording.MaxDuration, func() {
		logger.Infow("recording limit reached", "maxDuration", s.conf.Recording.MaxDuration)
		if _, err := s.beginStop(gen); err != nil {
			logger.Debugw("limit stop skipped", "error", err)
		}
	})
}

func (s *Session) failStart(gen uint64, err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.gen != gen || s.state != types.SessionStateStarting {
		return err
	}
	return s.failLocked(err)
}

// failLocked moves the session to Failed and releases everything it holds.
func (s *Session) failLocked(err error) error {
	logger.Errorw("recording failed", err, "sessionID", s.id, "state", s.state)

	s.state = types.SessionStateFailed
	s.err = err
	s.fragments = nil
	s.cleanupLocked()
	s.closeDoneLocked()
	s.monitor.IncSessionEnded(types.SessionStateFailed)
	return err
}

func (s *Session) onDataAvailable(gen uint64, data []byte) {
	if len(data) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.gen != gen || (s.state != types.SessionStateRecording && s.state != types.SessionStateStopping) {
		return
	}
	s.fragments = append(s.fragments, data)
	s.monitor.AddFragmentBytes(len(data))
}

func (s *Session) onVideoEnded(gen uint64) {
	s.mu.Lock()
	recording := s.gen == gen && s.state == types.SessionStateRecording
	s.mu.Unlock()
	if !recording {
		return
	}

	logger.Infow("display capture ended, stopping recording")
	if _, err := s.beginStop(gen); err != nil {
		logger.Debugw("display ended stop skipped", "error", err)
	}
}

func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.id
}

func (s *Session) State() types.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

// Err returns the error of the last failure, or the probe error before any session ran.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.err
}

func (s *Session) MimeType() types.MimeType {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.mimeType
}

// Elapsed returns whole seconds recorded so far.
func (s *Session) Elapsed() int {
	return s.timer.Elapsed()
}

// OnTick sets a callback for every elapsed second.
func (s *Session) OnTick(f func(seconds int)) {
	s.timer.OnTick(f)
}

func (s *Session) Artifact() *Artifact {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.artifact
}

func (s *Session) PreviewURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.artifact == nil {
		return ""
	}
	return s.artifact.PreviewURL
}

// Done is closed when the current session reaches Stopped or Failed. It is nil before the first Start.
func (s *Session) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.done
}

// Result returns the artifact or error of the last finished session.
func (s *Session) Result() (*Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == types.SessionStateFailed {
		return nil, s.err
	}
	return s.artifact, nil
}

func (s *Session) closeDoneLocked() {
	if s.done == nil {
		return
	}
	select {
	case <-s.done:
	default:
		close(s.done)
	}
}
