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

package capture

import (
	"github.com/linkdata/deadlock"
)

type EncoderCallbacks struct {
	mu deadlock.RWMutex

	onDataAvailable func([]byte)
	onStopped       func()
	onError         func(error)
}

func (c *EncoderCallbacks) SetOnDataAvailable(f func([]byte)) {
	c.mu.Lock()
	c.onDataAvailable = f
	c.mu.Unlock()
}

func (c *EncoderCallbacks) OnDataAvailable(data []byte) {
	c.mu.RLock()
	onDataAvailable := c.onDataAvailable
	c.mu.RUnlock()
	if onDataAvailable != nil {
		onDataAvailable(data)
	}
}

func (c *EncoderCallbacks) SetOnStopped(f func()) {
	c.mu.Lock()
	c.onStopped = f
	c.mu.Unlock()
}

func (c *EncoderCallbacks) OnStopped() {
	c.mu.RLock()
	onStopped := c.onStopped
	c.mu.RUnlock()
	if onStopped != nil {
		onStopped()
	}
}

func (c *EncoderCallbacks) SetOnError(f func(error)) {
	c.mu.Lock()
	c.onError = f
	c.mu.Unlock()
}

func (c *EncoderCallbacks) OnError(err error) {
	c.mu.RLock()
	onError := c.onError
	c.mu.RUnlock()
	if onError != nil {
		onError(err)
	}
}
