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

package uploader

import (
	"context"
	"os"
	"path"
)

type localUploader struct {
	dir string
}

func newLocalUploader(dir string) (*localUploader, error) {
	return &localUploader{dir: dir}, nil
}

func (u *localUploader) name() string {
	return "local"
}

func (u *localUploader) upload(_ context.Context, data []byte, storageFilepath, _ string) (string, int64, error) {
	storageFilepath = path.Join(u.dir, storageFilepath)

	dir, _ := path.Split(storageFilepath)
	if dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return "", 0, err
		}
	}

	if err := os.WriteFile(storageFilepath, data, 0644); err != nil {
		return "", 0, err
	}

	return storageFilepath, int64(len(data)), nil
}
