// Copyright 2024 The alonet-backend Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package realtime

import (
	"sync"
	"testing"

	"github.com/apex/log"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

// fakeMessage one message captured by fakeConnection
type fakeMessage struct {
	msgType string
	payload interface{}
}

// fakeConnection implements Connection for unit-testing
type fakeConnection struct {
	lock     sync.Mutex
	id       string
	sendErr  error
	messages []fakeMessage
}

func newFakeConnection() *fakeConnection {
	return &fakeConnection{id: uuid.NewString()}
}

func (c *fakeConnection) ID() string {
	return c.id
}

func (c *fakeConnection) SendMessage(msgType string, payload interface{}) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.messages = append(c.messages, fakeMessage{msgType: msgType, payload: payload})
	return nil
}

// received fetch the captured messages of one type
func (c *fakeConnection) received(msgType string) []fakeMessage {
	c.lock.Lock()
	defer c.lock.Unlock()
	matched := []fakeMessage{}
	for _, msg := range c.messages {
		if msg.msgType == msgType {
			matched = append(matched, msg)
		}
	}
	return matched
}

func TestConnectionDirectory(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	uut, err := GetConnectionDirectory()
	assert.Nil(err)

	user1 := uuid.NewString()
	user2 := uuid.NewString()

	// Case 0: empty directory
	{
		assert.Equal(0, uut.Count())
		_, ok := uut.Lookup(user1)
		assert.False(ok)
		assert.Empty(uut.ListUserIDs())
	}

	// Case 1: register and look up
	conn1 := newFakeConnection()
	{
		uut.Register(user1, conn1)
		assert.Equal(1, uut.Count())
		found, ok := uut.Lookup(user1)
		assert.True(ok)
		assert.Equal(conn1.ID(), found.ID())
	}

	// Case 2: a user holds at most one connection; re-registering replaces it
	conn2 := newFakeConnection()
	{
		uut.Register(user1, conn2)
		assert.Equal(1, uut.Count())
		found, ok := uut.Lookup(user1)
		assert.True(ok)
		assert.Equal(conn2.ID(), found.ID())
	}

	// Case 3: multiple users are listed in sorted order
	conn3 := newFakeConnection()
	{
		uut.Register(user2, conn3)
		assert.Equal(2, uut.Count())
		listed := uut.ListUserIDs()
		assert.Len(listed, 2)
		assert.Contains(listed, user1)
		assert.Contains(listed, user2)
		assert.True(listed[0] < listed[1])
	}

	// Case 4: unregister removes the entry, repeat is a no-op
	{
		uut.Unregister(user1)
		_, ok := uut.Lookup(user1)
		assert.False(ok)
		assert.Equal(1, uut.Count())
		uut.Unregister(user1)
		assert.Equal(1, uut.Count())
	}
}
