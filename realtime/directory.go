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
	"sort"
	"sync"

	"github.com/alonet/alonet-backend/common"
	"github.com/apex/log"
)

// Connection one live client connection handle. Implemented by the websocket
// transport layer.
type Connection interface {
	// ID fetch the connection ID
	ID() string
	// SendMessage push one message to the client behind this connection
	SendMessage(msgType string, payload interface{}) error
}

// ConnectionDirectory tracks the single active connection of each user.
// A user re-registering replaces the previous handle; the replaced handle is
// only dereferenced, never closed here.
type ConnectionDirectory interface {
	// Register associate a user with a connection, replacing any prior entry
	Register(userID string, conn Connection)
	// Unregister remove a user's entry; no-op if absent
	Unregister(userID string)
	// Lookup fetch the connection of a user, if any
	Lookup(userID string) (Connection, bool)
	// Count fetch the number of registered connections
	Count() int
	// ListUserIDs fetch the registered user IDs in sorted order
	ListUserIDs() []string
}

// connectionDirectoryImpl implements ConnectionDirectory
type connectionDirectoryImpl struct {
	common.Component
	lock        sync.RWMutex
	connections map[string]Connection
}

// GetConnectionDirectory define a new ConnectionDirectory
func GetConnectionDirectory() (ConnectionDirectory, error) {
	logTags := log.Fields{
		"module":    "realtime",
		"component": "connection-directory",
	}
	return &connectionDirectoryImpl{
		Component:   common.Component{LogTags: logTags},
		connections: make(map[string]Connection),
	}, nil
}

// Register associate a user with a connection, replacing any prior entry
func (d *connectionDirectoryImpl) Register(userID string, conn Connection) {
	d.lock.Lock()
	defer d.lock.Unlock()
	if prior, ok := d.connections[userID]; ok {
		log.WithFields(d.LogTags).Infof(
			"Connection %s for %s superseded by %s", prior.ID(), userID, conn.ID(),
		)
	}
	d.connections[userID] = conn
}

// Unregister remove a user's entry; no-op if absent
func (d *connectionDirectoryImpl) Unregister(userID string) {
	d.lock.Lock()
	defer d.lock.Unlock()
	delete(d.connections, userID)
}

// Lookup fetch the connection of a user, if any
func (d *connectionDirectoryImpl) Lookup(userID string) (Connection, bool) {
	d.lock.RLock()
	defer d.lock.RUnlock()
	conn, ok := d.connections[userID]
	return conn, ok
}

// Count fetch the number of registered connections
func (d *connectionDirectoryImpl) Count() int {
	d.lock.RLock()
	defer d.lock.RUnlock()
	return len(d.connections)
}

// ListUserIDs fetch the registered user IDs in sorted order
func (d *connectionDirectoryImpl) ListUserIDs() []string {
	d.lock.RLock()
	defer d.lock.RUnlock()
	userIDs := make([]string, 0, len(d.connections))
	for userID := range d.connections {
		userIDs = append(userIDs, userID)
	}
	sort.Strings(userIDs)
	return userIDs
}
