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

package core

import (
	"context"
	"time"

	"github.com/alonet/alonet-backend/common"
	"github.com/apex/log"
	"github.com/nats-io/nats.go"
)

// NATSConnectParams NATS connection parameter
type NATSConnectParams struct {
	// ServerURI connect to the NATS change-event bus with URI
	ServerURI string `validate:"required,uri"`
	// ConnectTimeout max time to wait for connection
	ConnectTimeout time.Duration
	// MaxReconnectAttempt on connection failure, max number of reconnect
	// attempt. "-1" means infinite
	MaxReconnectAttempt int
	// ReconnectWait wait duration between reconnect attempts
	ReconnectWait time.Duration
	// OnDisconnectCallback callback on disconnect
	OnDisconnectCallback func(*nats.Conn, error)
	// OnReconnectCallback callback on reconnect
	OnReconnectCallback func(*nats.Conn)
	// OnCloseCallback callback on close
	OnCloseCallback func(*nats.Conn)
}

// NatsClient NATS client used as the row-change event bus
type NatsClient struct {
	common.Component
	nc *nats.Conn
}

// Close close the NATS client
func (c NatsClient) Close(ctxt context.Context) {
	if err := c.nc.FlushWithContext(ctxt); err != nil {
		log.WithError(err).WithFields(c.LogTags).Errorf("NATS flush failed")
	}
	c.nc.Close()
	log.WithFields(c.LogTags).Infof("Close NATS client")
}

// NATS fetch the core NATS connection
func (c NatsClient) NATS() *nats.Conn {
	return c.nc
}

// Ready check whether the NATS connection is usable
func (c NatsClient) Ready() bool {
	return c.nc.Status() == nats.CONNECTED
}

// GetNatsClient define a new NATS client
func GetNatsClient(param NATSConnectParams) (NatsClient, error) {
	logTags := log.Fields{
		"module":    "core",
		"component": "nats-backend",
		"instance":  param.ServerURI,
	}
	// Create the NATS transport
	nc, err := nats.Connect(
		param.ServerURI,
		nats.Timeout(param.ConnectTimeout),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(param.MaxReconnectAttempt),
		nats.ReconnectWait(param.ReconnectWait),
		nats.DisconnectErrHandler(param.OnDisconnectCallback),
		nats.ReconnectHandler(param.OnReconnectCallback),
		nats.ClosedHandler(param.OnCloseCallback),
	)
	if err != nil {
		log.WithError(err).WithFields(logTags).Errorf("NATS client connect failed")
		return NatsClient{}, err
	}
	log.WithFields(logTags).Info("Created NATS client")

	return NatsClient{
		Component: common.Component{LogTags: logTags},
		nc:        nc,
	}, nil
}
