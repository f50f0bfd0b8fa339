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

package load

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/mackerelio/go-osstat/cpu"

	"github.com/livekit/protocol/logger"
)

// Summary describes host cpu usage while a recording ran, in percent.
type Summary struct {
	Samples   int
	AvgLoad   float64
	MaxLoad   float64
	AvgUser   float64
	AvgSystem float64
}

type sample struct {
	user, system, idle float64
}

func usage(prev, cur *cpu.Stats) (sample, bool) {
	total := float64(cur.Total - prev.Total)
	if cur.Total <= prev.Total {
		return sample{}, false
	}
	return sample{
		user:   float64(cur.User-prev.User) / total * 100,
		system: float64(cur.System-prev.System) / total * 100,
		idle:   float64(cur.Idle-prev.Idle) / total * 100,
	}, true
}

type accumulator struct {
	count, userTotal, systemTotal, idleTotal float64
	idleMin                                  float64
}

func (a *accumulator) add(s sample) {
	if a.count == 0 || s.idle < a.idleMin {
		a.idleMin = s.idle
	}
	a.userTotal += s.user
	a.systemTotal += s.system
	a.idleTotal += s.idle
	a.count++
}

func (a *accumulator) summary() Summary {
	if a.count == 0 {
		return Summary{}
	}
	return Summary{
		Samples:   int(a.count),
		AvgLoad:   100 - a.idleTotal/a.count,
		MaxLoad:   100 - a.idleMin,
		AvgUser:   a.userTotal / a.count,
		AvgSystem: a.systemTotal / a.count,
	}
}

// MonitorCPULoad samples cpu usage every interval until done is closed or ctx ends,
// then logs and returns a summary.
func MonitorCPULoad(ctx context.Context, sessionID string, interval time.Duration, done <-chan struct{}) Summary {
	acc := &accumulator{}
	prev, err := cpu.Get()
	if err != nil {
		logger.Debugw("cpu stats unavailable", "error", err)
		return Summary{}
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return logSummary(sessionID, acc.summary())
		case <-done:
			return logSummary(sessionID, acc.summary())
		case <-ticker.C:
			cur, err := cpu.Get()
			if err != nil {
				continue
			}
			if s, ok := usage(prev, cur); ok {
				acc.add(s)
			}
			prev = cur
		}
	}
}

func logSummary(sessionID string, s Summary) Summary {
	if s.Samples == 0 {
		return s
	}

	numCPUs := runtime.NumCPU()
	logger.Infow("CPU load",
		"sessionID", sessionID,
		"avg load", fmt.Sprintf("%.2f%% (%.2f/%v)", s.AvgLoad, s.AvgLoad*float64(numCPUs)/100, numCPUs),
		"max load", fmt.Sprintf("%.2f%% (%.2f/%v)", s.MaxLoad, s.MaxLoad*float64(numCPUs)/100, numCPUs),
		"avg user", fmt.Sprintf("%.2f%%", s.AvgUser),
		"avg system", fmt.Sprintf("%.2f%%", s.AvgSystem),
	)
	return s
}
