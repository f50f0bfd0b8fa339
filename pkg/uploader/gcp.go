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
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"cloud.google.com/go/storage"
	"github.com/googleapis/gax-go/v2"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"

	"github.com/oglimmer/vmsg/pkg/config"
	"github.com/oglimmer/vmsg/pkg/errors"
)

const storageScope = "https://www.googleapis.com/auth/devstorage.read_write"

type GCPUploader struct {
	conf   *config.GCPConfig
	client *storage.Client
}

func newGCPUploader(conf *config.GCPConfig) (uploader, error) {
	ctx := context.Background()

	var ts oauth2.TokenSource
	if conf.CredentialsJSON != "" {
		jwtConfig, err := google.JWTConfigFromJSON([]byte(conf.CredentialsJSON), storageScope)
		if err != nil {
			return nil, err
		}
		ts = jwtConfig.TokenSource(ctx)
	}

	var opts []option.ClientOption
	if conf.ProxyConfig != nil {
		transport, err := proxyTransport(conf.ProxyConfig)
		if err != nil {
			return nil, err
		}
		if ts == nil {
			if ts, err = google.DefaultTokenSource(ctx, storageScope); err != nil {
				return nil, err
			}
		}
		opts = append(opts, option.WithHTTPClient(&http.Client{
			Transport: &oauth2.Transport{Source: ts, Base: transport},
		}))
	} else if ts != nil {
		opts = append(opts, option.WithTokenSource(ts))
	}

	c, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, err
	}

	return &GCPUploader{
		conf:   conf,
		client: c,
	}, nil
}

func (u *GCPUploader) name() string {
	return "gcp"
}

func (u *GCPUploader) upload(ctx context.Context, data []byte, storageFilepath, contentType string) (string, int64, error) {
	wc := u.client.Bucket(u.conf.Bucket).Object(storageFilepath).Retryer(
		storage.WithBackoff(gax.Backoff{
			Initial:    minDelay,
			Max:        maxDelay,
			Multiplier: 2,
		}),
		storage.WithMaxAttempts(maxRetries),
		storage.WithPolicy(storage.RetryAlways),
	).NewWriter(ctx)
	wc.ChunkRetryDeadline = 0
	wc.ContentType = contentType

	if _, err := io.Copy(wc, bytes.NewReader(data)); err != nil {
		_ = wc.Close()
		return "", 0, errors.ErrUploadFailed("GCP", err)
	}

	if err := wc.Close(); err != nil {
		return "", 0, errors.ErrUploadFailed("GCP", err)
	}

	return fmt.Sprintf("https://%s.storage.googleapis.com/%s", u.conf.Bucket, storageFilepath), int64(len(data)), nil
}
