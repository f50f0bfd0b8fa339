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
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/oglimmer/vmsg/pkg/capture"
	"github.com/oglimmer/vmsg/pkg/capture/capturetest"
	"github.com/oglimmer/vmsg/pkg/config"
	"github.com/oglimmer/vmsg/pkg/errors"
	"github.com/oglimmer/vmsg/pkg/types"
)

const (
	testStopTimeout  = 100 * time.Millisecond
	testFlushTimeout = 50 * time.Millisecond
	waitFor          = 2 * time.Second
	tick             = 5 * time.Millisecond
)

type countingPreviewer struct {
	published atomic.Int32
	mu        sync.Mutex
	released  []string
}

func (p *countingPreviewer) Publish(a *Artifact) (string, error) {
	n := p.published.Inc()
	return fmt.Sprintf("memory://%s/%d", a.SessionID, n), nil
}

func (p *countingPreviewer) Release(previewURL string) {
	p.mu.Lock()
	p.released = append(p.released, previewURL)
	p.mu.Unlock()
}

func (p *countingPreviewer) Released() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.released...)
}

func testConfig(t *testing.T, extra string) *config.Config {
	conf, err := config.NewConfig(fmt.Sprintf(`
logging:
  level: debug
recording:
  stop_timeout: %s
  flush_timeout: %s
  preview_dir: %s
mixer:
  frame_duration: 10ms
%s`, testStopTimeout, testFlushTimeout, t.TempDir(), extra))
	require.NoError(t, err)
	return conf
}

func newTestSession(t *testing.T, provider *capturetest.Provider) (*Session, *countingPreviewer) {
	previewer := &countingPreviewer{}
	s := New(context.Background(), testConfig(t, ""), provider, WithPreviewer(previewer))
	t.Cleanup(s.Close)
	return s, previewer
}

func startedSession(t *testing.T, provider *capturetest.Provider) (*Session, *capturetest.Encoder, *countingPreviewer) {
	s, previewer := newTestSession(t, provider)
	require.NoError(t, s.Start(context.Background()))
	require.Equal(t, types.SessionStateRecording, s.State())
	return s, provider.Encoder(), previewer
}

func bufferLen(s *Session) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.fragments)
}

func requireReleased(t *testing.T, provider *capturetest.Provider) {
	require.Eventually(t, func() bool {
		if !provider.Display().Ended() {
			return false
		}
		for _, track := range provider.AudioTracks() {
			if !track.Ended() {
				return false
			}
		}
		return true
	}, waitFor, tick)
}

func TestStartClearsBuffer(t *testing.T) {
	provider := capturetest.NewProvider()
	s, enc, _ := startedSession(t, provider)
	require.Equal(t, 0, bufferLen(s))
	require.Equal(t, 0, s.Elapsed())
	require.NotEmpty(t, s.ID())
	require.Equal(t, types.MimeTypeWebMVP8Opus, s.MimeType())
	require.Equal(t, types.MimeTypeWebMVP8Opus, enc.MimeType())

	enc.Emit(make([]byte, 10))
	_, err := s.Stop(context.Background())
	require.NoError(t, err)

	firstID := s.ID()
	require.NoError(t, s.Start(context.Background()))
	require.Equal(t, 0, bufferLen(s))
	require.NotEqual(t, firstID, s.ID())
	require.Nil(t, s.Artifact())
	require.NoError(t, s.Err())
}

func TestZeroSizeFragmentsDiscarded(t *testing.T) {
	s, enc, _ := startedSession(t, capturetest.NewProvider())

	enc.Emit(nil)
	enc.Emit([]byte{})
	require.Equal(t, 0, bufferLen(s))

	enc.Emit(make([]byte, 10))
	enc.Emit([]byte{})
	require.Equal(t, 1, bufferLen(s))
}

func TestStopWithSignal(t *testing.T) {
	provider := capturetest.NewProvider()
	s, enc, previewer := startedSession(t, provider)

	enc.Emit(make([]byte, 10))
	enc.Emit(make([]byte, 20))

	artifact, err := s.Stop(context.Background())
	require.NoError(t, err)
	require.GreaterOrEqual(t, artifact.Size(), 30)
	require.Equal(t, types.MimeTypeWebMVP8Opus, artifact.MimeType)
	require.Equal(t, "recording.webm", artifact.Filename())
	require.NotEmpty(t, artifact.PreviewURL)
	require.Equal(t, artifact.PreviewURL, s.PreviewURL())
	require.Equal(t, int32(1), previewer.published.Load())

	require.Equal(t, types.SessionStateStopped, s.State())
	require.Same(t, artifact, s.Artifact())
	require.Equal(t, 1, enc.Stops())
	require.Equal(t, 0, enc.DataRequests())

	select {
	case <-s.Done():
	default:
		t.Fatal("done not closed")
	}
	res, err := s.Result()
	require.NoError(t, err)
	require.Same(t, artifact, res)

	requireReleased(t, provider)
}

func TestFinalDataBeforeSignal(t *testing.T) {
	provider := capturetest.NewProvider()
	provider.FinalData = make([]byte, 5)
	s, enc, _ := startedSession(t, provider)

	enc.Emit(make([]byte, 10))
	artifact, err := s.Stop(context.Background())
	require.NoError(t, err)
	require.Equal(t, 15, artifact.Size())
}

func TestImmediateStopNoData(t *testing.T) {
	for _, mode := range []capturetest.StopMode{capturetest.StopSilent, capturetest.StopStuck} {
		t.Run(fmt.Sprint(mode), func(t *testing.T) {
			provider := capturetest.NewProvider()
			provider.StopMode = mode
			s, enc, previewer := startedSession(t, provider)

			start := time.Now()
			artifact, err := s.Stop(context.Background())
			require.Nil(t, artifact)
			require.ErrorIs(t, err, errors.ErrNoDataRecorded)
			require.GreaterOrEqual(t, time.Since(start), testStopTimeout)

			require.Equal(t, types.SessionStateFailed, s.State())
			require.ErrorIs(t, s.Err(), errors.ErrNoDataRecorded)
			require.Equal(t, int32(0), previewer.published.Load())

			if mode == capturetest.StopStuck {
				require.Equal(t, 1, enc.DataRequests())
				require.GreaterOrEqual(t, time.Since(start), testStopTimeout+testFlushTimeout)
			} else {
				require.Equal(t, 0, enc.DataRequests())
			}

			requireReleased(t, provider)
		})
	}
}

func TestFallbackFlush(t *testing.T) {
	provider := capturetest.NewProvider()
	provider.StopMode = capturetest.StopStuck
	provider.FlushData = []byte{1, 2, 3}
	s, enc, previewer := startedSession(t, provider)

	enc.Emit(make([]byte, 10))
	artifact, err := s.Stop(context.Background())
	require.NoError(t, err)
	require.Equal(t, 13, artifact.Size())
	require.Equal(t, []byte{1, 2, 3}, artifact.Data[10:])
	require.Equal(t, 1, enc.DataRequests())
	require.Equal(t, int32(1), previewer.published.Load())
	require.Equal(t, types.SessionStateStopped, s.State())
}

func TestLateSignalAfterFallback(t *testing.T) {
	provider := capturetest.NewProvider()
	provider.StopMode = capturetest.StopSilent
	s, enc, previewer := startedSession(t, provider)

	enc.Emit(make([]byte, 10))
	artifact, err := s.Stop(context.Background())
	require.NoError(t, err)

	// the stopped signal arrives after the fallback finalized
	enc.Emit(make([]byte, 5))
	enc.SignalStopped()

	require.Equal(t, types.SessionStateStopped, s.State())
	require.Same(t, artifact, s.Artifact())
	require.Equal(t, 10, s.Artifact().Size())
	require.Equal(t, int32(1), previewer.published.Load())
}

func TestLateFallbackAfterSignal(t *testing.T) {
	s, enc, previewer := startedSession(t, capturetest.NewProvider())

	enc.Emit(make([]byte, 10))
	artifact, err := s.Stop(context.Background())
	require.NoError(t, err)

	// outlive the fallback window
	time.Sleep(testStopTimeout + testFlushTimeout + 20*time.Millisecond)

	require.Equal(t, types.SessionStateStopped, s.State())
	require.Same(t, artifact, s.Artifact())
	require.Equal(t, int32(1), previewer.published.Load())
	require.Equal(t, 0, enc.DataRequests())
}

func TestEncoderErrorWithPendingStop(t *testing.T) {
	provider := capturetest.NewProvider()
	provider.StopMode = capturetest.StopStuck
	s, enc, _ := startedSession(t, provider)
	enc.Emit(make([]byte, 10))

	type result struct {
		artifact *Artifact
		err      error
	}
	results := make(chan result, 1)
	go func() {
		artifact, err := s.Stop(context.Background())
		results <- result{artifact, err}
	}()

	require.Eventually(t, func() bool {
		return s.State() == types.SessionStateStopping
	}, waitFor, tick)
	enc.Fail(fmt.Errorf("muxer crashed"))

	res := <-results
	require.Nil(t, res.artifact)
	require.ErrorIs(t, res.err, errors.ErrEncoderFailed)
	require.Equal(t, types.SessionStateFailed, s.State())
	require.ErrorIs(t, s.Err(), errors.ErrEncoderFailed)
	requireReleased(t, provider)

	// the fallback timer was cancelled
	time.Sleep(testStopTimeout + testFlushTimeout)
	require.Equal(t, 0, enc.DataRequests())
}

func TestEncoderErrorWhileRecording(t *testing.T) {
	provider := capturetest.NewProvider()
	s, enc, _ := startedSession(t, provider)

	enc.Fail(fmt.Errorf("disk full"))
	require.Equal(t, types.SessionStateFailed, s.State())
	require.Contains(t, s.Err().Error(), "disk full")
	requireReleased(t, provider)

	_, err := s.Result()
	require.ErrorIs(t, err, errors.ErrEncoderFailed)
}

func TestConcurrentStopsShareOutcome(t *testing.T) {
	provider := capturetest.NewProvider()
	provider.StopMode = capturetest.StopSilent
	s, enc, previewer := startedSession(t, provider)
	enc.Emit(make([]byte, 10))

	var wg sync.WaitGroup
	artifacts := make([]*Artifact, 3)
	for i := range artifacts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			artifact, err := s.Stop(context.Background())
			assert.NoError(t, err)
			artifacts[i] = artifact
		}()
	}
	wg.Wait()

	require.Same(t, artifacts[0], artifacts[1])
	require.Same(t, artifacts[0], artifacts[2])
	require.Equal(t, 1, enc.Stops())
	require.Equal(t, int32(1), previewer.published.Load())
}

func TestStopContextCancelled(t *testing.T) {
	provider := capturetest.NewProvider()
	provider.StopMode = capturetest.StopSilent
	s, enc, _ := startedSession(t, provider)
	enc.Emit(make([]byte, 10))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := s.Stop(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// finalization continues without the caller
	select {
	case <-s.Done():
	case <-time.After(waitFor):
		t.Fatal("session did not finalize")
	}
	require.Equal(t, types.SessionStateStopped, s.State())
}

func TestStopErrors(t *testing.T) {
	s, _ := newTestSession(t, capturetest.NewProvider())

	_, err := s.Stop(context.Background())
	require.ErrorIs(t, err, errors.ErrNoActiveSession)

	require.NoError(t, s.Start(context.Background()))
	_, err = s.Stop(context.Background())
	require.ErrorIs(t, err, errors.ErrNoDataRecorded)

	_, err = s.Stop(context.Background())
	require.ErrorIs(t, err, errors.ErrAlreadyStopped)
}

func TestStartWhileActive(t *testing.T) {
	provider := capturetest.NewProvider()
	provider.StopMode = capturetest.StopStuck
	s, _, _ := startedSession(t, provider)

	require.ErrorIs(t, s.Start(context.Background()), errors.ErrSessionInProgress)

	go func() { _, _ = s.Stop(context.Background()) }()
	require.Eventually(t, func() bool {
		return s.State() == types.SessionStateStopping
	}, waitFor, tick)
	require.ErrorIs(t, s.Start(context.Background()), errors.ErrSessionInProgress)
}

func TestUnsupportedEnvironment(t *testing.T) {
	provider := capturetest.NewProvider()
	provider.Caps.DisplayCapture = false

	s, _ := newTestSession(t, provider)
	require.False(t, s.Probe().Supported)
	require.Equal(t, capture.ReasonNoDisplayCapture, s.Err().Error())
	require.Equal(t, types.SessionStateIdle, s.State())

	err := s.Start(context.Background())
	require.ErrorIs(t, err, errors.ErrUnsupportedEnvironment)
	require.Equal(t, capture.ReasonNoDisplayCapture, err.Error())
	require.Equal(t, types.SessionStateFailed, s.State())
	require.Nil(t, provider.Encoder())
}

func TestMimeTypeNegotiation(t *testing.T) {
	provider := capturetest.NewProvider()
	provider.SupportedTypes = []types.MimeType{types.MimeTypeWebM, types.MimeTypeMP4}
	s, enc, _ := startedSession(t, provider)
	require.Equal(t, types.MimeTypeWebM, s.MimeType())

	enc.Emit(make([]byte, 4))
	artifact, err := s.Stop(context.Background())
	require.NoError(t, err)
	require.Equal(t, types.MimeTypeWebM, artifact.MimeType)

	provider.SupportedTypes = []types.MimeType{"video/ogg"}
	err = s.Start(context.Background())
	require.ErrorIs(t, err, errors.ErrUnsupportedEnvironment)
	require.Equal(t, types.SessionStateFailed, s.State())
}

func TestMicrophoneFailureIgnored(t *testing.T) {
	provider := capturetest.NewProvider()
	provider.UserMediaErr = errors.ErrCaptureDenied("microphone", fmt.Errorf("no device"))
	s, enc, _ := startedSession(t, provider)

	require.Len(t, provider.AudioTracks(), 1)
	require.NotNil(t, enc.Stream().Audio())
	require.NoError(t, s.Err())
}

func TestNoAudioSources(t *testing.T) {
	provider := capturetest.NewProvider()
	provider.UserMediaErr = fmt.Errorf("no device")
	previewer := &countingPreviewer{}
	s := New(context.Background(), testConfig(t, "capture:\n  system_audio: false\n"), provider, WithPreviewer(previewer))
	defer s.Close()

	require.NoError(t, s.Start(context.Background()))
	require.Nil(t, provider.Encoder().Stream().Audio())
	require.Len(t, provider.Encoder().Stream().Tracks(), 1)
}

func TestDisplayCaptureDenied(t *testing.T) {
	provider := capturetest.NewProvider()
	provider.DisplayErr = fmt.Errorf("user cancelled")
	s, _ := newTestSession(t, provider)

	err := s.Start(context.Background())
	require.ErrorIs(t, err, errors.ErrPermissionDenied)
	require.Equal(t, types.SessionStateFailed, s.State())

	// a fresh start is allowed after failure
	provider.DisplayErr = nil
	require.NoError(t, s.Start(context.Background()))
	require.Equal(t, types.SessionStateRecording, s.State())
}

func TestEncoderStartFailure(t *testing.T) {
	provider := capturetest.NewProvider()
	provider.StartErr = fmt.Errorf("no codec")
	s, _ := newTestSession(t, provider)

	err := s.Start(context.Background())
	require.ErrorIs(t, err, errors.ErrEncoderFailed)
	require.Equal(t, types.SessionStateFailed, s.State())
	requireReleased(t, provider)
}

func TestDisplayEndedStopsRecording(t *testing.T) {
	provider := capturetest.NewProvider()
	s, enc, _ := startedSession(t, provider)
	enc.Emit(make([]byte, 10))

	provider.Display().End()

	select {
	case <-s.Done():
	case <-time.After(waitFor):
		t.Fatal("session did not stop")
	}
	require.Equal(t, types.SessionStateStopped, s.State())
	require.Equal(t, 1, enc.Stops())
	require.Equal(t, 10, s.Artifact().Size())
}

func TestMaxDuration(t *testing.T) {
	provider := capturetest.NewProvider()
	conf := testConfig(t, "")
	conf.Recording.MaxDuration = 50 * time.Millisecond
	s := New(context.Background(), conf, provider, WithPreviewer(&countingPreviewer{}))
	defer s.Close()

	require.NoError(t, s.Start(context.Background()))
	provider.Encoder().Emit(make([]byte, 10))

	select {
	case <-s.Done():
	case <-time.After(waitFor):
		t.Fatal("limit did not stop the session")
	}
	require.Equal(t, types.SessionStateStopped, s.State())
}

func TestRestartReleasesPreview(t *testing.T) {
	s, enc, previewer := startedSession(t, capturetest.NewProvider())
	enc.Emit(make([]byte, 10))
	artifact, err := s.Stop(context.Background())
	require.NoError(t, err)

	require.NoError(t, s.Start(context.Background()))
	require.Equal(t, []string{artifact.PreviewURL}, previewer.Released())
	require.Empty(t, s.PreviewURL())
}

func TestFailedRestartReleasesPreview(t *testing.T) {
	provider := capturetest.NewProvider()
	s, enc, previewer := startedSession(t, provider)
	enc.Emit(make([]byte, 10))
	artifact, err := s.Stop(context.Background())
	require.NoError(t, err)

	provider.SupportedTypes = []types.MimeType{"video/x-unknown"}
	require.ErrorIs(t, s.Start(context.Background()), errors.ErrUnsupportedEnvironment)
	require.Equal(t, types.SessionStateFailed, s.State())
	require.Equal(t, []string{artifact.PreviewURL}, previewer.Released())
	require.Nil(t, s.Artifact())
	require.Empty(t, s.PreviewURL())
}

func TestClose(t *testing.T) {
	provider := capturetest.NewProvider()
	provider.StopMode = capturetest.StopStuck
	s, enc, _ := startedSession(t, provider)

	errs := make(chan error, 1)
	go func() {
		_, err := s.Stop(context.Background())
		errs <- err
	}()
	require.Eventually(t, func() bool {
		return s.State() == types.SessionStateStopping
	}, waitFor, tick)

	s.Close()
	require.ErrorIs(t, <-errs, errors.ErrSessionClosed)
	require.Equal(t, types.SessionStateFailed, s.State())
	requireReleased(t, provider)

	// late callbacks are ignored
	enc.Emit(make([]byte, 10))
	enc.SignalStopped()
	require.Equal(t, types.SessionStateFailed, s.State())
	require.Equal(t, 0, bufferLen(s))
}

func TestFilePreviewer(t *testing.T) {
	p := NewFilePreviewer(t.TempDir())
	a := &Artifact{SessionID: "abc", Data: []byte{1, 2, 3}, MimeType: types.MimeTypeMP4}

	previewURL, err := p.Publish(a)
	require.NoError(t, err)

	filepath, ok := PreviewPath(previewURL)
	require.True(t, ok)
	require.FileExists(t, filepath)
	b, err := os.ReadFile(filepath)
	require.NoError(t, err)
	require.Equal(t, a.Data, b)
	require.Equal(t, "recording.mp4", a.Filename())

	p.Release(previewURL)
	require.NoFileExists(t, filepath)

	_, ok = PreviewPath("https://example.com/x.webm")
	require.False(t, ok)
}
