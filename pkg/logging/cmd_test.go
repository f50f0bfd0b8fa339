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

package logging

import (
	"os"
	"path"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oglimmer/vmsg/pkg/config"
)

func TestCmdLogger(t *testing.T) {
	l := NewCmdLogger("ffmpeg", config.DebugConfig{})

	_, err := l.Write([]byte("frame=  10 fps=0.0\r[x11grab @ 0x1] Cannot open dis"))
	require.NoError(t, err)
	require.Empty(t, l.LastError())

	_, err = l.Write([]byte("play :9\n"))
	require.NoError(t, err)
	require.Equal(t, "[x11grab @ 0x1] Cannot open display :9", l.LastError())
	require.NoError(t, l.Close())
}

func TestCmdLoggerFile(t *testing.T) {
	dir := t.TempDir()
	l := NewCmdLogger("pulse", config.DebugConfig{FFmpegLogDir: dir, FFmpegLogSize: 1})

	_, err := l.Write([]byte("Input #0, pulse, from 'default':\n"))
	require.NoError(t, err)
	require.Empty(t, l.LastError())
	require.NoError(t, l.Close())

	b, err := os.ReadFile(path.Join(dir, "pulse.log"))
	require.NoError(t, err)
	require.Equal(t, "Input #0, pulse, from 'default':\n", string(b))
}
