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

package errors

import (
	"errors"
	"fmt"
	"strings"

	"github.com/livekit/psrpc"
)

// Error is a coded error. Sentinels are compared by identity; derived errors
// match their sentinel through Is.
type Error struct {
	code  psrpc.ErrorCode
	msg   string
	base  *Error
	cause error
}

func newError(code psrpc.ErrorCode, msg string) *Error {
	return &Error{code: code, msg: msg}
}

func (e *Error) Error() string {
	return e.msg
}

func (e *Error) Code() psrpc.ErrorCode {
	return e.code
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e == t || (e.base != nil && e.base == t)
}

func (e *Error) Unwrap() error {
	return e.cause
}

func (e *Error) derive(msg string, cause error) *Error {
	return &Error{code: e.code, msg: msg, base: e, cause: cause}
}

var (
	ErrUnsupportedEnvironment = newError(psrpc.FailedPrecondition, "Environment does not support screen recording")
	ErrPermissionDenied       = newError(psrpc.PermissionDenied, "capture permission denied")
	ErrEncoderFailed          = newError(psrpc.Internal, "Recording error occurred")
	ErrNoActiveSession        = newError(psrpc.FailedPrecondition, "No active recording")
	ErrAlreadyStopped         = newError(psrpc.FailedPrecondition, "Recording already stopped")
	ErrNoDataRecorded         = newError(psrpc.DataLoss, "No data recorded")
	ErrUploadFailedBase       = newError(psrpc.Unavailable, "Upload failed")
	ErrNotFound               = newError(psrpc.NotFound, "Recording not found")
	ErrSessionInProgress      = newError(psrpc.AlreadyExists, "a recording is already in progress")
	ErrSessionClosed          = newError(psrpc.Canceled, "recording session closed")
	ErrNoSupportedMimeType    = newError(psrpc.FailedPrecondition, "No supported video MIME type found")
	ErrRecorderLocked         = newError(psrpc.AlreadyExists, "another vmsg recording is already running")
	ErrProfileNotFound        = newError(psrpc.NotFound, "profile not found")
)

func New(err string) error {
	return errors.New(err)
}

func Is(err, target error) bool {
	return errors.Is(err, target)
}

func As(err error, target any) bool {
	return errors.As(err, target)
}

// CodeOf returns the code carried by err, or psrpc.Unknown.
func CodeOf(err error) psrpc.ErrorCode {
	var coded interface{ Code() psrpc.ErrorCode }
	if errors.As(err, &coded) {
		return coded.Code()
	}
	return psrpc.Unknown
}

func ErrCouldNotParseConfig(err error) error {
	return fmt.Errorf("could not parse config: %v", err)
}

func ErrInvalidConfig(field string) error {
	return fmt.Errorf("config has missing or invalid field: %s", field)
}

// ErrUnsupported carries the probe reason and matches ErrUnsupportedEnvironment.
func ErrUnsupported(reason string) error {
	return ErrUnsupportedEnvironment.derive(reason, nil)
}

func ErrCaptureDenied(source string, err error) error {
	return ErrPermissionDenied.derive(fmt.Sprintf("%s capture failed: %v", source, err), err)
}

func ErrEncoder(err error) error {
	if err == nil {
		return ErrEncoderFailed
	}
	return ErrEncoderFailed.derive(fmt.Sprintf("Recording error occurred: %v", err), err)
}

func ErrUploadFailed(location string, err error) error {
	return ErrUploadFailedBase.derive(fmt.Sprintf("%s upload failed: %v", location, err), err)
}

// ErrBackupFailed reports a failed upload whose backup write failed as well.
func ErrBackupFailed(primary, backup error) error {
	return ErrUploadFailedBase.derive(fmt.Sprintf("primary: %s\nbackup: %s", primary, backup), primary)
}

func ErrUploadStatus(status int, body string) error {
	return ErrUploadFailedBase.derive(fmt.Sprintf("Upload failed: %d - %s", status, body), nil)
}

func ErrFetchFailed(status int, body string) error {
	return psrpc.NewErrorf(psrpc.Unavailable, "Failed to fetch recording: %d - %s", status, body)
}

type ErrArray struct {
	errs []error
}

func (e *ErrArray) AppendErr(err error) {
	e.errs = append(e.errs, err)
}

func (e *ErrArray) Check(err error) {
	if err != nil {
		e.errs = append(e.errs, err)
	}
}

func (e *ErrArray) ToError() psrpc.Error {
	if len(e.errs) == 0 {
		return nil
	}

	code := psrpc.Unknown
	var errStr []string

	// Return the code for the first coded error
	for _, err := range e.errs {
		if code == psrpc.Unknown {
			code = CodeOf(err)
		}

		errStr = append(errStr, err.Error())
	}

	return psrpc.NewErrorf(code, "%s", strings.Join(errStr, "\n"))
}
