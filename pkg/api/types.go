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

package api

import (
	"time"

	"github.com/oglimmer/vmsg/pkg/types"
)

const localDateTime = "2006-01-02T15:04:05.999999999"

// Recording is returned by the backend after an upload.
type Recording struct {
	UUID             string                 `json:"uuid"`
	Filename         string                 `json:"filename"`
	FileSize         int64                  `json:"fileSize"`
	ContentType      string                 `json:"contentType"`
	ProcessingStatus types.ProcessingStatus `json:"processingStatus"`
	CreatedAt        string                 `json:"createdAt"`
}

// RecordingDetail adds processing results to a Recording.
type RecordingDetail struct {
	Recording
	Duration        *int64 `json:"duration"` // seconds, nil until processed
	ProcessingError string `json:"processingError,omitempty"`
}

// CreatedTime parses CreatedAt, which the backend sends with or without a zone.
func (r *Recording) CreatedTime() (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, r.CreatedAt); err == nil {
		return t, nil
	}
	return time.ParseInLocation(localDateTime, r.CreatedAt, time.Local)
}

func (r *RecordingDetail) DurationValue() time.Duration {
	if r.Duration == nil {
		return 0
	}
	return time.Duration(*r.Duration) * time.Second
}
