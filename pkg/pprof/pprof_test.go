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

package pprof

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oglimmer/vmsg/pkg/errors"
)

func TestGetProfileData(t *testing.T) {
	b, err := GetProfileData(context.Background(), "goroutine", 0, 1)
	require.NoError(t, err)
	require.NotEmpty(t, b)

	_, err = GetProfileData(context.Background(), "missing", 0, 0)
	require.ErrorIs(t, err, errors.ErrProfileNotFound)

	b, err = GetProfileData(context.Background(), "cpu", time.Millisecond*50, 0)
	require.NoError(t, err)
	require.NotEmpty(t, b)
}

func TestCPUProfileCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := GetProfileData(ctx, "cpu", time.Minute, 0)
	require.ErrorIs(t, err, context.Canceled)
}
