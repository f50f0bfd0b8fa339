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

package media

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/frostbyte73/core"
	"github.com/linkdata/deadlock"
	"go.uber.org/atomic"

	"github.com/livekit/protocol/logger"
	"github.com/oglimmer/vmsg/pkg/config"
)

// input buffers are capped at this many frames, oldest samples are dropped first
const maxBufferedFrames = 10

// Mixer sums any number of audio tracks into a single output track.
// A Mixer owns its sources: Close stops the graph, the output and every source.
type Mixer struct {
	conf   config.MixerConfig
	format AudioFormat

	ctx    context.Context
	cancel context.CancelFunc

	mu      deadlock.Mutex
	inputs  []*mixerInput
	output  *PCMTrack
	started bool

	wg     sync.WaitGroup
	closed core.Fuse

	framesMixed atomic.Uint64
}

type mixerInput struct {
	track AudioTrack

	mu  deadlock.Mutex
	buf []int16
}

func NewMixer(conf config.MixerConfig) *Mixer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Mixer{
		conf: conf,
		format: AudioFormat{
			SampleRate: conf.SampleRate,
			Channels:   conf.Channels,
		},
		ctx:    ctx,
		cancel: cancel,
	}
}

// Mix connects every source to the mixing graph and returns its single output track.
// Sources must deliver the mixer sample rate; any other source is stopped and left out.
// With nothing to mix Mix returns the current output, which is nil before the first source.
func (m *Mixer) Mix(sources []AudioTrack) AudioTrack {
	accepted := make([]AudioTrack, 0, len(sources))
	for _, src := range sources {
		if src == nil {
			continue
		}
		if f := src.Format(); f.SampleRate != m.format.SampleRate {
			logger.Warnw("audio source rejected, sample rate mismatch", nil,
				"source", src.Label(),
				"sampleRate", f.SampleRate,
				"expected", m.format.SampleRate,
			)
			src.Stop()
			continue
		}
		accepted = append(accepted, src)
	}
	if len(accepted) == 0 {
		return m.Output()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ctx.Err() != nil {
		for _, src := range accepted {
			src.Stop()
		}
		return nil
	}

	if m.output == nil {
		m.output = NewPCMTrack("mixed audio", m.format)
		m.output.SetOnStop(m.Close)
	}

	for _, src := range accepted {
		in := &mixerInput{track: src}
		m.inputs = append(m.inputs, in)
		m.wg.Add(1)
		go m.read(in)
	}

	if !m.started {
		m.started = true
		m.wg.Add(1)
		go m.run()
	}

	logger.Debugw("audio mixer connected", "sources", len(m.inputs))
	return m.output
}

// Output returns the mixed track, or nil when nothing has been mixed.
func (m *Mixer) Output() AudioTrack {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.output == nil {
		return nil
	}
	return m.output
}

func (m *Mixer) FramesMixed() uint64 {
	return m.framesMixed.Load()
}

// Close is idempotent.
func (m *Mixer) Close() {
	m.closed.Once(func() {
		m.mu.Lock()
		m.cancel()
		inputs := m.inputs
		output := m.output
		m.mu.Unlock()

		for _, in := range inputs {
			in.track.Stop()
		}
		m.wg.Wait()

		if output != nil {
			output.End()
		}
		logger.Debugw("audio mixer closed", "framesMixed", m.framesMixed.Load())
	})
}

func (m *Mixer) read(in *mixerInput) {
	defer m.wg.Done()

	src := in.track.Format()
	limit := m.frameSize() * maxBufferedFrames
	for {
		samples, err := in.track.ReadSamples(m.ctx)
		if err != nil {
			// ended sources contribute silence
			return
		}

		samples = convertChannels(samples, src.Channels, m.format.Channels)
		in.mu.Lock()
		in.buf = append(in.buf, samples...)
		if over := len(in.buf) - limit; over > 0 {
			in.buf = in.buf[over:]
		}
		in.mu.Unlock()
	}
}

func (m *Mixer) run() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.conf.FrameDuration)
	defer ticker.Stop()

	n := m.frameSize()
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.mu.Lock()
			inputs := m.inputs
			m.mu.Unlock()

			frames := make([][]int16, 0, len(inputs))
			for _, in := range inputs {
				frames = append(frames, in.take(n))
			}

			_ = m.output.Write(mixFrames(frames, n, m.conf.Normalize))
			m.framesMixed.Inc()
		}
	}
}

func (m *Mixer) frameSize() int {
	return m.conf.FrameSamples() * m.format.Channels
}

// take removes up to n samples. Short reads are zero filled by mixFrames.
func (in *mixerInput) take(n int) []int16 {
	in.mu.Lock()
	defer in.mu.Unlock()

	if len(in.buf) < n {
		n = len(in.buf)
	}
	frame := make([]int16, n)
	copy(frame, in.buf[:n])
	in.buf = in.buf[n:]
	return frame
}

// mixFrames sums n samples of every frame, saturating at the int16 range.
// Missing samples count as silence.
func mixFrames(frames [][]int16, n int, normalize bool) []int16 {
	out := make([]int16, n)
	if len(frames) == 0 {
		return out
	}

	for i := 0; i < n; i++ {
		var sum int32
		for _, frame := range frames {
			if i < len(frame) {
				sum += int32(frame[i])
			}
		}
		if normalize {
			sum /= int32(len(frames))
		}
		out[i] = clamp(sum)
	}
	return out
}

func clamp(v int32) int16 {
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	default:
		return int16(v)
	}
}

func convertChannels(samples []int16, from, to int) []int16 {
	if from == to || from == 0 || to == 0 {
		return samples
	}

	switch {
	case from == 1 && to == 2:
		out := make([]int16, len(samples)*2)
		for i, s := range samples {
			out[2*i] = s
			out[2*i+1] = s
		}
		return out
	case from == 2 && to == 1:
		out := make([]int16, len(samples)/2)
		for i := range out {
			out[i] = int16((int32(samples[2*i]) + int32(samples[2*i+1])) / 2)
		}
		return out
	default:
		return samples
	}
}
