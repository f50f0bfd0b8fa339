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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/livekit/protocol/logger"
	"github.com/livekit/protocol/tracer"
	"github.com/oglimmer/vmsg/pkg/config"
	"github.com/oglimmer/vmsg/pkg/errors"
	"github.com/oglimmer/vmsg/pkg/types"
)

const (
	uploadField   = "video"
	maxRetries    = 3
	maxErrorBytes = 4096
)

// Client talks to the vmsg backend.
type Client struct {
	baseURL string
	http    *retryablehttp.Client
}

func NewClient(conf config.APIConfig) *Client {
	c := retryablehttp.NewClient()
	c.RetryMax = maxRetries
	c.RetryWaitMin = 200 * time.Millisecond
	c.RetryWaitMax = 2 * time.Second
	c.HTTPClient.Timeout = conf.Timeout
	c.Logger = retryLogger{}
	c.CheckRetry = checkRetry
	c.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Client{
		baseURL: conf.BaseURL,
		http:    c,
	}
}

// checkRetry never repeats a POST the server has answered.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if resp != nil && resp.Request != nil && resp.Request.Method == http.MethodPost {
		return false, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

type UploadOption func(*uploadOptions)

type uploadOptions struct {
	onProgress func(sent, total int64)
}

// WithProgress reports bytes sent on every write of the request body.
func WithProgress(f func(sent, total int64)) UploadOption {
	return func(o *uploadOptions) {
		o.onProgress = f
	}
}

// Upload posts the recording as the multipart field "video".
func (c *Client) Upload(ctx context.Context, data []byte, filename string, contentType types.MimeType, opts ...UploadOption) (*Recording, error) {
	ctx, span := tracer.Start(ctx, "Client.Upload")
	defer span.End()

	o := &uploadOptions{}
	for _, opt := range opts {
		opt(o)
	}
	if filename == "" {
		filename = types.DefaultFilename
	}
	if contentType == "" {
		contentType = types.DefaultMimeType
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, uploadField, filename))
	header.Set("Content-Type", string(contentType.BaseType()))
	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, errors.ErrUploadFailed("api", err)
	}
	if _, err = part.Write(data); err != nil {
		return nil, errors.ErrUploadFailed("api", err)
	}
	if err = writer.Close(); err != nil {
		return nil, errors.ErrUploadFailed("api", err)
	}

	payload := body.Bytes()
	total := int64(len(payload))
	bodyFunc := retryablehttp.ReaderFunc(func() (io.Reader, error) {
		return &progressReader{r: bytes.NewReader(payload), total: total, onProgress: o.onProgress}, nil
	})

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/recordings", bodyFunc)
	if err != nil {
		return nil, errors.ErrUploadFailed("api", err)
	}
	req.ContentLength = total
	req.Header.Set("Content-Type", writer.FormDataContentType())

	logger.Debugw("uploading recording", "filename", filename, "size", len(data))
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.ErrUploadFailed("api", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return nil, errors.ErrUploadStatus(resp.StatusCode, readError(resp.Body))
	}

	recording := &Recording{}
	if err = json.NewDecoder(resp.Body).Decode(recording); err != nil {
		return nil, errors.ErrUploadFailed("api", err)
	}
	logger.Infow("recording uploaded", "uuid", recording.UUID, "status", recording.ProcessingStatus)
	return recording, nil
}

// GetRecording fetches metadata. A missing recording returns errors.ErrNotFound.
func (c *Client) GetRecording(ctx context.Context, id string) (*RecordingDetail, error) {
	ctx, span := tracer.Start(ctx, "Client.GetRecording")
	defer span.End()

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.recordingURL(id), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, errors.ErrNotFound
	default:
		return nil, errors.ErrFetchFailed(resp.StatusCode, readError(resp.Body))
	}

	detail := &RecordingDetail{}
	if err = json.NewDecoder(resp.Body).Decode(detail); err != nil {
		return nil, err
	}
	return detail, nil
}

// WaitForProcessing polls until the backend reports a final processing status.
func (c *Client) WaitForProcessing(ctx context.Context, id string, interval time.Duration) (*RecordingDetail, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		detail, err := c.GetRecording(ctx, id)
		if err != nil {
			return nil, err
		}
		if detail.ProcessingStatus.IsFinal() {
			return detail, nil
		}
		logger.Debugw("recording still processing", "uuid", id)

		select {
		case <-ctx.Done():
			return detail, ctx.Err()
		case <-ticker.C:
		}
	}
}

// StreamURL is the playback address of a recording. It does not contact the backend.
func (c *Client) StreamURL(id string) string {
	return c.recordingURL(id) + "/stream"
}

func (c *Client) recordingURL(id string) string {
	return fmt.Sprintf("%s/recordings/%s", c.baseURL, url.PathEscape(id))
}

func readError(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, maxErrorBytes))
	return string(b)
}

type progressReader struct {
	r          io.Reader
	sent       int64
	total      int64
	onProgress func(sent, total int64)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 && p.onProgress != nil {
		p.sent += int64(n)
		p.onProgress(p.sent, p.total)
	}
	return n, err
}

// retryLogger adapts the shared logger to retryablehttp.
type retryLogger struct{}

func (retryLogger) Error(msg string, keysAndValues ...interface{}) {
	logger.Warnw(msg, nil, keysAndValues...)
}

func (retryLogger) Info(msg string, keysAndValues ...interface{}) {
	logger.Debugw(msg, keysAndValues...)
}

func (retryLogger) Debug(msg string, keysAndValues ...interface{}) {
	logger.Debugw(msg, keysAndValues...)
}

func (retryLogger) Warn(msg string, keysAndValues ...interface{}) {
	logger.Warnw(msg, nil, keysAndValues...)
}
