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
	"fmt"
	"path"
	"time"

	"github.com/linkdata/deadlock"

	"github.com/livekit/protocol/logger"
	"github.com/livekit/protocol/tracer"
	"github.com/oglimmer/vmsg/pkg/api"
	"github.com/oglimmer/vmsg/pkg/config"
	"github.com/oglimmer/vmsg/pkg/errors"
	"github.com/oglimmer/vmsg/pkg/recorder"
	"github.com/oglimmer/vmsg/pkg/stats"
	"github.com/oglimmer/vmsg/pkg/util"
)

const (
	maxRetries = 5
	minDelay   = time.Millisecond * 100
	maxDelay   = time.Second * 5
)

// backup storage
type uploader interface {
	upload(ctx context.Context, data []byte, storageFilepath, contentType string) (string, int64, error)
	name() string
}

// State mirrors what a view needs to render an upload.
type State struct {
	Uploading  bool
	Progress   int // 0 to 100
	UploadedID string
	Location   string // backup location when the backend could not be reached
	Err        error
}

type Result struct {
	Recording *api.Recording // nil when only the backup succeeded
	Location  string
	Size      int64
	Backup    bool
}

// Uploader sends recordings to the backend and falls back to backup storage.
type Uploader struct {
	client  *api.Client
	backup  uploader
	prefix  string
	monitor *stats.Monitor

	mu    deadlock.Mutex
	state State
}

func New(client *api.Client, backup *config.StorageConfig, monitor *stats.Monitor) *Uploader {
	u := &Uploader{
		client:  client,
		monitor: monitor,
	}

	if backup != nil {
		b, err := getUploader(backup)
		if err != nil {
			logger.Errorw("failed to create backup uploader", err)
		} else {
			u.backup = b
			u.prefix = backup.Prefix
		}
	}

	return u
}

func getUploader(conf *config.StorageConfig) (uploader, error) {
	switch {
	case conf.S3 != nil:
		return newS3Uploader(conf.S3)
	case conf.GCP != nil:
		return newGCPUploader(conf.GCP)
	case conf.Azure != nil:
		return newAzureUploader(conf.Azure)
	case conf.Local != nil:
		return newLocalUploader(conf.Local.Dir)
	default:
		return newLocalUploader("")
	}
}

func backupValues(conf *config.StorageConfig, name string) []interface{} {
	values := []interface{}{"type", name, "prefix", conf.Prefix}
	switch {
	case conf.S3 != nil:
		values = append(values, "bucket", conf.S3.Bucket, "accessKey", util.RedactSecret(conf.S3.AccessKey))
		if conf.S3.ProxyConfig != nil {
			values = append(values, "proxy", util.RedactURL(conf.S3.ProxyConfig.Url))
		}
	case conf.GCP != nil:
		values = append(values, "bucket", conf.GCP.Bucket, "credentials", util.Redact(conf.GCP.CredentialsJSON, "{credentials}"))
		if conf.GCP.ProxyConfig != nil {
			values = append(values, "proxy", util.RedactURL(conf.GCP.ProxyConfig.Url))
		}
	case conf.Azure != nil:
		values = append(values, "account", conf.Azure.AccountName, "container", conf.Azure.ContainerName)
	case conf.Local != nil:
		values = append(values, "dir", conf.Local.Dir)
	}
	return values
}

// Upload sends the artifact to the backend. When that fails and backup storage is
// configured, the artifact is written there instead.
func (u *Uploader) Upload(ctx context.Context, artifact *recorder.Artifact) (*Result, error) {
	ctx, span := tracer.Start(ctx, "Uploader.Upload")
	defer span.End()

	u.mu.Lock()
	if u.state.Uploading {
		u.mu.Unlock()
		return nil, errors.ErrUploadFailed("api", fmt.Errorf("upload already in progress"))
	}
	u.state = State{Uploading: true}
	u.mu.Unlock()

	res, err := u.upload(ctx, artifact)

	u.mu.Lock()
	u.state.Uploading = false
	if err != nil {
		u.state.Err = err
	} else {
		u.state.Progress = 100
		if res.Recording != nil {
			u.state.UploadedID = res.Recording.UUID
		}
		u.state.Location = res.Location
	}
	u.mu.Unlock()

	return res, err
}

func (u *Uploader) upload(ctx context.Context, artifact *recorder.Artifact) (*Result, error) {
	start := time.Now()
	recording, primaryErr := u.client.Upload(ctx, artifact.Data, artifact.Filename(), artifact.MimeType,
		api.WithProgress(u.setProgress),
	)
	elapsed := time.Since(start)

	if primaryErr == nil {
		if u.monitor != nil {
			u.monitor.IncUploadCountSuccess("api", float64(elapsed.Milliseconds()))
		}
		return &Result{
			Recording: recording,
			Location:  u.client.StreamURL(recording.UUID),
			Size:      int64(artifact.Size()),
		}, nil
	}

	if u.monitor != nil {
		u.monitor.IncUploadCountFailure("api", float64(elapsed.Milliseconds()))
	}
	if u.backup == nil {
		return nil, primaryErr
	}

	logger.Warnw("upload failed, writing to backup storage", primaryErr, "backup", u.backup.name())
	storageFilepath := path.Join(u.prefix, fmt.Sprintf("vmsg-%s%s", artifact.SessionID, artifact.MimeType.FileExtension()))

	start = time.Now()
	location, size, backupErr := u.backup.upload(ctx, artifact.Data, storageFilepath, string(artifact.MimeType.BaseType()))
	elapsed = time.Since(start)
	if backupErr != nil {
		if u.monitor != nil {
			u.monitor.IncUploadCountFailure(u.backup.name(), float64(elapsed.Milliseconds()))
		}
		return nil, errors.ErrBackupFailed(primaryErr, backupErr)
	}

	if u.monitor != nil {
		u.monitor.IncUploadCountSuccess(u.backup.name(), float64(elapsed.Milliseconds()))
		u.monitor.IncBackupStorageWrites(u.backup.name())
	}
	logger.Infow("recording written to backup storage", "location", location, "size", size)
	return &Result{
		Location: location,
		Size:     size,
		Backup:   true,
	}, nil
}

func (u *Uploader) setProgress(sent, total int64) {
	if total <= 0 {
		return
	}

	u.mu.Lock()
	// 100 is reported once the backend accepted the upload
	u.state.Progress = min(int(sent*100/total), 99)
	u.mu.Unlock()
}

func (u *Uploader) State() State {
	u.mu.Lock()
	defer u.mu.Unlock()

	return u.state
}

// Clear resets the upload state unless an upload is running.
func (u *Uploader) Clear() {
	u.mu.Lock()
	defer u.mu.Unlock()

	if !u.state.Uploading {
		u.state = State{}
	}
}
