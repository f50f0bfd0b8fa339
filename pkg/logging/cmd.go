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
	"bytes"
	"io"
	"path"
	"strings"

	"github.com/linkdata/deadlock"
	"go.uber.org/zap"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/livekit/protocol/logger"
	"github.com/oglimmer/vmsg/pkg/config"
)

// CmdLogger logs process stderr line by line and optionally keeps it in a rotating file.
type CmdLogger struct {
	name   string
	logger *zap.SugaredLogger
	file   io.WriteCloser

	mu        deadlock.Mutex
	partial   []byte
	lastError string
}

func NewCmdLogger(name string, conf config.DebugConfig) *CmdLogger {
	l := &CmdLogger{
		name:   name,
		logger: zap.NewNop().Sugar(),
	}
	if zl, ok := logger.GetLogger().(logger.ZapLogger); ok {
		l.logger = zl.ToZap().WithOptions(zap.WithCaller(false)).With("cmd", name)
	}
	if conf.FFmpegLogDir != "" {
		l.file = &lumberjack.Logger{
			Filename:   path.Join(conf.FFmpegLogDir, name+".log"),
			MaxSize:    conf.FFmpegLogSize,
			MaxBackups: 3,
		}
	}
	return l
}

func (l *CmdLogger) Write(p []byte) (int, error) {
	if l.file != nil {
		_, _ = l.file.Write(p)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.partial = append(l.partial, p...)
	idx := bytes.LastIndexAny(l.partial, "\r\n")
	if idx < 0 {
		return len(p), nil
	}

	// ffmpeg progress lines end in \r
	lines := strings.FieldsFunc(string(l.partial[:idx+1]), func(r rune) bool {
		return r == '\r' || r == '\n'
	})
	for _, line := range lines {
		l.logLine(strings.TrimSpace(line))
	}
	l.partial = append(l.partial[:0], l.partial[idx+1:]...)
	return len(p), nil
}

func (l *CmdLogger) logLine(line string) {
	switch {
	case line == "":
	case strings.Contains(strings.ToLower(line), "error"),
		strings.Contains(line, "Cannot open"),
		strings.Contains(line, "Invalid"):
		l.lastError = line
		l.logger.Warnw(line)
	default:
		l.logger.Debugw(line)
	}
}

// LastError returns the most recent error line, if any.
func (l *CmdLogger) LastError() string {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.lastError
}

func (l *CmdLogger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}
