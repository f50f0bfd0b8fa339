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
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFormat(t *testing.T) {
	for seconds, expected := range map[int]string{
		0:     "0:00",
		5:     "0:05",
		61:    "1:01",
		599:   "9:59",
		3599:  "59:59",
		3600:  "1:00:00",
		3661:  "1:01:01",
		36000: "10:00:00",
		-1:    "0:00",
	} {
		require.Equal(t, expected, Format(seconds), seconds)
	}
}

func TestTimer(t *testing.T) {
	timer := newTimer(10 * time.Millisecond)

	// safe before start
	timer.Stop()
	require.Equal(t, 0, timer.Elapsed())

	ticks := make(chan int, 100)
	timer.OnTick(func(seconds int) { ticks <- seconds })

	timer.Start()
	require.Equal(t, 1, <-ticks)
	require.Equal(t, 2, <-ticks)
	timer.Stop()
	timer.Stop()

	elapsed := timer.Elapsed()
	require.GreaterOrEqual(t, elapsed, 2)
	time.Sleep(30 * time.Millisecond)
	require.Equal(t, elapsed, timer.Elapsed())

	// restart resets the count
	timer.Start()
	require.Equal(t, 0, timer.Elapsed())
	require.Eventually(t, func() bool { return timer.Elapsed() > 0 }, time.Second, time.Millisecond)
	timer.Stop()
}
