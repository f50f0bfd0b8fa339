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
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go/logging"
	"github.com/linkdata/deadlock"

	"github.com/livekit/protocol/logger"
	"github.com/livekit/psrpc"
	"github.com/oglimmer/vmsg/pkg/config"
	"github.com/oglimmer/vmsg/pkg/errors"
)

const (
	defaultBucketLocation = "us-east-1"
	awsLogSize            = 10
)

type S3Uploader struct {
	conf   *config.S3Config
	client *s3.Client
}

func newS3Uploader(conf *config.S3Config) (uploader, error) {
	loadOpts, err := s3LoadOptions(conf)
	if err != nil {
		return nil, err
	}

	awsConf, err := awsConfig.LoadDefaultConfig(context.Background(), loadOpts...)
	if err != nil {
		return nil, err
	}
	if conf.Endpoint != "" {
		awsConf.BaseEndpoint = aws.String(conf.Endpoint)
	}

	client := s3.NewFromConfig(awsConf, func(o *s3.Options) {
		o.UsePathStyle = conf.ForcePathStyle
	})

	if conf.Region == "" {
		region, err := manager.GetBucketRegion(context.Background(), client, conf.Bucket)
		if err != nil {
			return nil, psrpc.NewErrorf(psrpc.InvalidArgument, "failed to retrieve backup bucket region: %v", err)
		}
		client = s3.NewFromConfig(awsConf, func(o *s3.Options) {
			o.Region = region
			o.UsePathStyle = conf.ForcePathStyle
		})
	}

	return &S3Uploader{
		conf:   conf,
		client: client,
	}, nil
}

func s3LoadOptions(conf *config.S3Config) ([]func(*awsConfig.LoadOptions) error, error) {
	region := conf.Region
	if region == "" {
		region = defaultBucketLocation
	}

	opts := []func(*awsConfig.LoadOptions) error{
		awsConfig.WithRegion(region),
		awsConfig.WithRetryer(func() aws.Retryer {
			return retry.NewStandard(func(o *retry.StandardOptions) {
				o.MaxAttempts = conf.MaxRetries
				o.MaxBackoff = conf.MaxRetryDelay
				o.Retryables = append(o.Retryables, retryAlways{})
			})
		}),
	}

	if conf.AccessKey != "" && conf.Secret != "" {
		opts = append(opts, awsConfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(conf.AccessKey, conf.Secret, conf.SessionToken),
		))
	}

	if conf.ProxyConfig != nil {
		transport, err := proxyTransport(conf.ProxyConfig)
		if err != nil {
			return nil, err
		}
		opts = append(opts, awsConfig.WithHTTPClient(&http.Client{Transport: transport}))
	}

	return opts, nil
}

// proxyTransport clones the default transport so other clients keep a direct connection.
func proxyTransport(proxy *config.ProxyConfig) (*http.Transport, error) {
	proxyURL, err := url.Parse(proxy.Url)
	if err != nil {
		return nil, err
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = http.ProxyURL(proxyURL)
	if proxy.Username != "" && proxy.Password != "" {
		auth := base64.StdEncoding.EncodeToString([]byte(proxy.Username + ":" + proxy.Password))
		transport.ProxyConnectHeader = http.Header{
			"Proxy-Authorization": []string{"Basic " + auth},
		}
	}
	return transport, nil
}

func (u *S3Uploader) name() string {
	return "s3"
}

func (u *S3Uploader) upload(ctx context.Context, data []byte, storageFilepath, contentType string) (string, int64, error) {
	awsLog := newAWSLog(awsLogSize)

	disposition := u.conf.ContentDisposition
	if disposition == "" {
		disposition = "inline"
	}
	input := &s3.PutObjectInput{
		Bucket:             aws.String(u.conf.Bucket),
		Key:                aws.String(storageFilepath),
		Body:               bytes.NewReader(data),
		ContentType:        aws.String(contentType),
		ContentDisposition: aws.String(disposition),
		Metadata:           u.conf.Metadata,
	}
	if u.conf.Tagging != "" {
		input.Tagging = aws.String(u.conf.Tagging)
	}

	up := manager.NewUploader(u.client, func(mu *manager.Uploader) {
		mu.ClientOptions = append(mu.ClientOptions, func(o *s3.Options) {
			o.Logger = awsLog
		})
	})
	if _, err := up.Upload(ctx, input); err != nil {
		awsLog.flush()
		return "", 0, errors.ErrUploadFailed("S3", err)
	}

	return s3Location(u.conf, storageFilepath), int64(len(data)), nil
}

func s3Location(conf *config.S3Config, storageFilepath string) string {
	endpoint := "s3.amazonaws.com"
	if conf.Endpoint != "" {
		endpoint = strings.TrimPrefix(strings.TrimPrefix(conf.Endpoint, "https://"), "http://")
	}

	if conf.ForcePathStyle {
		return fmt.Sprintf("https://%s/%s/%s", endpoint, conf.Bucket, storageFilepath)
	}
	return fmt.Sprintf("https://%s.%s/%s", conf.Bucket, endpoint, storageFilepath)
}

// awsLog keeps the last few sdk messages and writes them only when an upload fails.
type awsLog struct {
	mu    deadlock.Mutex
	ring  []string
	next  int
	count int
}

func newAWSLog(size int) *awsLog {
	return &awsLog{ring: make([]string, size)}
}

func (l *awsLog) Logf(classification logging.Classification, format string, v ...interface{}) {
	msg := fmt.Sprintf("aws %s: %s", strings.ToLower(string(classification)), fmt.Sprintf(format, v...))

	l.mu.Lock()
	defer l.mu.Unlock()

	l.ring[l.next] = msg
	l.next = (l.next + 1) % len(l.ring)
	l.count = min(l.count+1, len(l.ring))
}

// messages returns buffered messages, oldest first.
func (l *awsLog) messages() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	msgs := make([]string, 0, l.count)
	start := (l.next - l.count + len(l.ring)) % len(l.ring)
	for i := range l.count {
		msgs = append(msgs, l.ring[(start+i)%len(l.ring)])
	}
	return msgs
}

func (l *awsLog) flush() {
	for _, msg := range l.messages() {
		logger.Debugw(msg)
	}
}

type retryAlways struct{}

func (retryAlways) IsErrorRetryable(_ error) aws.Ternary {
	return aws.TrueTernary
}
