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
	"context"
	"fmt"
	"sync"

	"github.com/alonet/alonet-backend/common"
	"github.com/alonet/alonet-backend/core"
	"github.com/alonet/alonet-backend/storage"
	"github.com/apex/log"
)

// SessionState a client session lifecycle state
type SessionState int

// Client session lifecycle states
const (
	// SessionConnected transport open, identity not yet bound
	SessionConnected SessionState = iota
	// SessionAuthenticated identity bound, subscriptions active
	SessionAuthenticated
	// SessionClosed terminal
	SessionClosed
)

// String implements Stringer
func (s SessionState) String() string {
	switch s {
	case SessionAuthenticated:
		return "authenticated"
	case SessionClosed:
		return "closed"
	default:
		return "connected"
	}
}

// FanoutRouter the live-connection entry point: binds identities to
// connections, wires up per-topic subscriptions, and routes each change event
// to the owning user and their partner.
type FanoutRouter interface {
	// NewSession start tracking one freshly connected client
	NewSession(conn Connection) *ClientSession
}

// fanoutRouterImpl implements FanoutRouter
type fanoutRouterImpl struct {
	common.Component
	directory ConnectionDirectory
	manager   SubscriptionManager
	resolver  PartnerResolver
	verifier  core.TokenVerifier
}

// GetFanoutRouter define a new FanoutRouter
func GetFanoutRouter(
	directory ConnectionDirectory,
	manager SubscriptionManager,
	resolver PartnerResolver,
	verifier core.TokenVerifier,
) (FanoutRouter, error) {
	logTags := log.Fields{
		"module":    "realtime",
		"component": "fanout-router",
	}
	return &fanoutRouterImpl{
		Component: common.Component{LogTags: logTags},
		directory: directory,
		manager:   manager,
		resolver:  resolver,
		verifier:  verifier,
	}, nil
}

// ClientSession tracks one live connection through its lifecycle
type ClientSession struct {
	router *fanoutRouterImpl
	conn   Connection
	lock   sync.Mutex
	state  SessionState
	userID string
}

// NewSession start tracking one freshly connected client
func (r *fanoutRouterImpl) NewSession(conn Connection) *ClientSession {
	log.WithFields(r.LogTags).Infof("Client connected on %s", conn.ID())
	return &ClientSession{router: r, conn: conn, state: SessionConnected}
}

// State fetch the session state
func (s *ClientSession) State() SessionState {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.state
}

// UserID fetch the bound user ID, empty before authentication
func (s *ClientSession) UserID() string {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.userID
}

// Authenticate bind a verified identity to this session, register the
// connection, and open the per-topic subscriptions. On failure the session
// stays open and unauthenticated so the client can retry.
func (s *ClientSession) Authenticate(
	ctxt context.Context, token string, claimedUserID string,
) error {
	s.lock.Lock()
	if s.state != SessionConnected {
		state := s.state
		s.lock.Unlock()
		return fmt.Errorf("session on %s is %s, not awaiting authentication", s.conn.ID(), state)
	}
	s.lock.Unlock()

	// Token verification is a suspension point; other sessions' events may
	// interleave here, so the session state is re-checked afterwards
	user, err := s.router.verifier.VerifyToken(ctxt, token)
	if err == nil && user.ID != claimedUserID {
		err = fmt.Errorf("token subject does not match claimed user ID")
	}
	if err != nil {
		log.WithError(err).WithFields(s.router.LogTags).Infof(
			"Authentication on %s failed", s.conn.ID(),
		)
		if sendErr := s.conn.SendMessage(
			MsgAuthError, AuthErrorNotice{Error: "Authentication failed"},
		); sendErr != nil {
			log.WithError(sendErr).WithFields(s.router.LogTags).Debugf(
				"Failed to report authentication error on %s", s.conn.ID(),
			)
		}
		return err
	}

	s.lock.Lock()
	if s.state != SessionConnected {
		s.lock.Unlock()
		return fmt.Errorf("session on %s closed during authentication", s.conn.ID())
	}
	s.state = SessionAuthenticated
	s.userID = user.ID
	s.lock.Unlock()

	s.router.directory.Register(user.ID, s.conn)

	// A topic whose feed fails to open is unavailable for this session; the
	// remaining topics are still attempted
	topics := []storage.Topic{storage.TopicMoments, storage.TopicPartners, storage.TopicPresence}
	for _, topic := range topics {
		if _, err := s.router.manager.Subscribe(
			ctxt, user.ID, topic, func(event storage.ChangeEvent) {
				s.router.routeChange(ctxt, user.ID, event)
			},
		); err != nil {
			log.WithError(err).WithFields(s.router.LogTags).Errorf(
				"Session of %s left without %s subscription", user.ID, topic,
			)
		}
	}

	if err := s.conn.SendMessage(MsgAuthenticated, AuthenticatedNotice{UserID: user.ID}); err != nil {
		log.WithError(err).WithFields(s.router.LogTags).Debugf(
			"Failed to confirm authentication on %s", s.conn.ID(),
		)
	}
	log.WithFields(s.router.LogTags).Infof("User %s authenticated on %s", user.ID, s.conn.ID())
	return nil
}

// Disconnect tear the session down. Idempotent; a session that never
// authenticated has nothing registered, so cleanup is a no-op.
func (s *ClientSession) Disconnect() {
	s.lock.Lock()
	if s.state == SessionClosed {
		s.lock.Unlock()
		return
	}
	userID := s.userID
	s.state = SessionClosed
	s.lock.Unlock()

	log.WithFields(s.router.LogTags).Infof("Client on %s disconnected", s.conn.ID())
	if userID == "" {
		return
	}
	s.router.directory.Unregister(userID)
	s.router.manager.UnsubscribeAll(userID)
}

// RelayTyping forward the ephemeral composing signal to the partner's
// connection. Dropped silently when the sender is unauthenticated.
func (s *ClientSession) RelayTyping(ctxt context.Context, isTyping bool) {
	s.lock.Lock()
	state := s.state
	userID := s.userID
	s.lock.Unlock()
	if state != SessionAuthenticated {
		return
	}

	partnerID, ok := s.router.resolver.CurrentPartnerOf(ctxt, userID)
	if !ok {
		return
	}
	s.router.push(partnerID, MsgPartnerTyping, PartnerTypingNotice{
		UserID:   userID,
		IsTyping: isTyping,
	})
}

// push deliver one message to a user's connection, if any. A missing or stale
// connection is not an error; this is a live relay, the durable store remains
// the source of truth.
func (r *fanoutRouterImpl) push(userID, msgType string, payload interface{}) {
	conn, ok := r.directory.Lookup(userID)
	if !ok {
		log.WithFields(r.LogTags).Debugf("No live connection for %s, dropping %s", userID, msgType)
		return
	}
	if err := conn.SendMessage(msgType, payload); err != nil {
		log.WithError(err).WithFields(r.LogTags).Debugf(
			"Failed to push %s to %s on %s", msgType, userID, conn.ID(),
		)
	}
}

// routeChange deliver one change event arriving on subscriberID's
// subscription. Moment and partnership changes go to the event's owning user
// and their partner; presence events go only to the subscriber. Delivery to
// one target is never skipped because the other failed.
func (r *fanoutRouterImpl) routeChange(
	ctxt context.Context, subscriberID string, event storage.ChangeEvent,
) {
	if event.Topic == storage.TopicPresence {
		r.push(subscriberID, MsgPresenceChange, event.Row())
		return
	}

	var msgType string
	var payload interface{}
	switch event.Topic {
	case storage.TopicPartners:
		msgType = MsgPartnerChange
		payload = PartnerChangeNotice{
			Type:         string(event.Type),
			Relationship: event.Row(),
			Timestamp:    event.Timestamp,
		}
	default:
		msgType = MsgMomentChange
		payload = MomentChangeNotice{
			Type:      string(event.Type),
			Moment:    event.Row(),
			Timestamp: event.Timestamp,
		}
	}

	target := event.UserID
	if target == "" {
		target = subscriberID
	}
	r.push(target, msgType, payload)
	if partnerID, ok := r.resolver.CurrentPartnerOf(ctxt, target); ok &&
		partnerID != target {
		r.push(partnerID, msgType, payload)
	}
}
