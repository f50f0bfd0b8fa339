package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/livekit/psrpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDerivedErrors(t *testing.T) {
	err := ErrUnsupported("Screen recording is not supported on this device.")
	require.True(t, Is(err, ErrUnsupportedEnvironment))
	require.False(t, Is(err, ErrPermissionDenied))
	require.Equal(t, "Screen recording is not supported on this device.", err.Error())
	require.Equal(t, psrpc.FailedPrecondition, CodeOf(err))

	cause := errors.New("exit status 1")
	err = ErrEncoder(cause)
	require.True(t, Is(err, ErrEncoderFailed))
	require.True(t, Is(err, cause))
	require.Equal(t, psrpc.Internal, CodeOf(err))

	require.Equal(t, ErrEncoderFailed, ErrEncoder(nil))

	wrapped := fmt.Errorf("stopping: %w", ErrNoDataRecorded)
	require.True(t, Is(wrapped, ErrNoDataRecorded))
	require.Equal(t, psrpc.DataLoss, CodeOf(wrapped))
	require.Equal(t, psrpc.Unknown, CodeOf(cause))
}

func TestSentinelsAreDistinct(t *testing.T) {
	// same code, different sentinels
	assert.False(t, Is(ErrNoActiveSession, ErrAlreadyStopped))
	assert.False(t, Is(ErrAlreadyStopped, ErrNoActiveSession))
	assert.True(t, Is(ErrUploadStatus(500, "boom"), ErrUploadFailedBase))
	assert.Equal(t, "Upload failed: 500 - boom", ErrUploadStatus(500, "boom").Error())
}

func TestErrArray(t *testing.T) {
	err1 := errors.New("error 1")
	err2 := errors.New("error 2")
	err3 := psrpc.NewErrorf(psrpc.NotFound, "error 3")
	err4 := ErrNoDataRecorded

	errArray := &ErrArray{}
	assert.Nil(t, errArray.ToError())

	errArray.Check(nil)
	assert.Nil(t, errArray.ToError())

	errArray.AppendErr(err1)
	assert.Equal(t, psrpc.Unknown, errArray.ToError().Code())
	assert.Equal(t, err1.Error(), errArray.ToError().Error())

	errArray.AppendErr(err2)
	assert.Equal(t, psrpc.Unknown, errArray.ToError().Code())
	assert.Equal(t, 2, len(strings.Split(errArray.ToError().Error(), "\n")))

	errArray.AppendErr(err3)
	assert.Equal(t, psrpc.NotFound, errArray.ToError().Code())
	assert.Equal(t, 3, len(strings.Split(errArray.ToError().Error(), "\n")))

	errArray.Check(err4)
	assert.Equal(t, psrpc.NotFound, errArray.ToError().Code())
	assert.Equal(t, 4, len(strings.Split(errArray.ToError().Error(), "\n")))
}
