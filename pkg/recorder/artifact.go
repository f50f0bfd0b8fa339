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
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"time"

	"github.com/oglimmer/vmsg/pkg/types"
)

// Artifact is the finalized output of one session.
type Artifact struct {
	SessionID  string
	Data       []byte
	MimeType   types.MimeType
	PreviewURL string
	Duration   time.Duration
	CreatedAt  time.Time
}

func (a *Artifact) Size() int {
	return len(a.Data)
}

// Filename is the upload name, with the extension of the negotiated container.
func (a *Artifact) Filename() string {
	return "recording" + string(a.MimeType.FileExtension())
}

func (a *Artifact) Reader() io.Reader {
	return bytes.NewReader(a.Data)
}

// Previewer makes an artifact locally resolvable until it is released.
type Previewer interface {
	Publish(a *Artifact) (string, error)
	Release(previewURL string)
}

// FilePreviewer writes artifacts to a directory and hands out file:// URLs.
type FilePreviewer struct {
	dir string
}

func NewFilePreviewer(dir string) *FilePreviewer {
	return &FilePreviewer{dir: dir}
}

func (p *FilePreviewer) Publish(a *Artifact) (string, error) {
	if err := os.MkdirAll(p.dir, 0755); err != nil {
		return "", err
	}

	filepath := path.Join(p.dir, fmt.Sprintf("vmsg-%s%s", a.SessionID, a.MimeType.FileExtension()))
	if err := os.WriteFile(filepath, a.Data, 0644); err != nil {
		return "", err
	}
	return (&url.URL{Scheme: "file", Path: filepath}).String(), nil
}

func (p *FilePreviewer) Release(previewURL string) {
	if filepath, ok := PreviewPath(previewURL); ok {
		_ = os.Remove(filepath)
	}
}

// PreviewPath returns the local path behind a file:// preview URL.
func PreviewPath(previewURL string) (string, bool) {
	u, err := url.Parse(previewURL)
	if err != nil || u.Scheme != "file" {
		return "", false
	}
	return u.Path, true
}
