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

package apis

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/alonet/alonet-backend/common"
	"github.com/alonet/alonet-backend/realtime"
	"github.com/alwitt/goutils"
	"github.com/apex/log"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// wsEnvelope the live-protocol wire frame
type wsEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// wsConnection implements realtime.Connection over one websocket. Writes are
// serialized; gorilla websockets support one concurrent writer only.
type wsConnection struct {
	id        string
	conn      *websocket.Conn
	writeLock sync.Mutex
}

// ID fetch the connection ID
func (c *wsConnection) ID() string {
	return c.id
}

// SendMessage push one message to the client behind this connection
func (c *wsConnection) SendMessage(msgType string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	c.writeLock.Lock()
	defer c.writeLock.Unlock()
	return c.conn.WriteJSON(wsEnvelope{Type: msgType, Data: data})
}

// APIRestRealtimeSocketHandler handler upgrading clients onto the live
// protocol and pumping their inbound messages into the fan-out router
type APIRestRealtimeSocketHandler struct {
	goutils.RestAPIHandler
	router   realtime.FanoutRouter
	upgrader websocket.Upgrader
}

// GetAPIRestRealtimeSocketHandler define APIRestRealtimeSocketHandler
func GetAPIRestRealtimeSocketHandler(
	router realtime.FanoutRouter, httpConfig *common.HTTPConfig,
) (APIRestRealtimeSocketHandler, error) {
	logTags := log.Fields{
		"module":    "rest",
		"component": "realtime-socket",
	}
	return APIRestRealtimeSocketHandler{
		RestAPIHandler: buildRestAPIHandler(logTags, httpConfig),
		router:         router,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Browser clients connect from the app's own origin; token
			// verification gates everything beyond the handshake
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}, nil
}

// Connect godoc
// @Summary Open a live connection
// @Description Upgrade to a websocket speaking the live change-relay protocol
// @tags Realtime
// @Success 101 {string} string "upgraded"
// @Failure 400 {string} string "error"
// @Router /v1/realtime/ws [get]
func (h APIRestRealtimeSocketHandler) Connect(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())

	wsConn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader already replied to the client
		log.WithError(err).WithFields(localLogTags).Error("Websocket upgrade failed")
		return
	}
	defer func() { _ = wsConn.Close() }()

	conn := &wsConnection{id: uuid.NewString(), conn: wsConn}
	session := h.router.NewSession(conn)
	defer session.Disconnect()

	for {
		_, raw, err := wsConn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(
				err, websocket.CloseNormalClosure, websocket.CloseGoingAway,
			) {
				log.WithError(err).WithFields(localLogTags).Infof(
					"Connection %s read failed", conn.ID(),
				)
			}
			return
		}

		var envelope wsEnvelope
		if err := json.Unmarshal(raw, &envelope); err != nil {
			log.WithError(err).WithFields(localLogTags).Debugf(
				"Discarding malformed frame on %s", conn.ID(),
			)
			continue
		}

		switch envelope.Type {
		case realtime.MsgAuthenticate:
			var request realtime.AuthenticateRequest
			if err := json.Unmarshal(envelope.Data, &request); err != nil {
				log.WithError(err).WithFields(localLogTags).Debugf(
					"Discarding malformed authenticate frame on %s", conn.ID(),
				)
				continue
			}
			// Failure is reported to the client in-band; the connection stays
			// open for retry
			_ = session.Authenticate(r.Context(), request.Token, request.UserID)
		case realtime.MsgTypingMoment:
			var signal realtime.TypingSignal
			if err := json.Unmarshal(envelope.Data, &signal); err != nil {
				log.WithError(err).WithFields(localLogTags).Debugf(
					"Discarding malformed typing frame on %s", conn.ID(),
				)
				continue
			}
			session.RelayTyping(r.Context(), signal.IsTyping)
		default:
			log.WithFields(localLogTags).Debugf(
				"Unknown frame type %s on %s", envelope.Type, conn.ID(),
			)
		}
	}
}

// ConnectHandler Wrapper around Connect
func (h APIRestRealtimeSocketHandler) ConnectHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.Connect(w, r)
	}
}
