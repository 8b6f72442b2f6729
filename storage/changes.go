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

package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alonet/alonet-backend/common"
	"github.com/alonet/alonet-backend/core"
	"github.com/apex/log"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// Topic a named category of change feed
type Topic string

const (
	// TopicMoments change feed over the moments table
	TopicMoments Topic = "moments"
	// TopicPartners change feed over the partner_relationships table
	TopicPartners Topic = "partner-relationships"
	// TopicPresence synthetic online / offline change feed
	TopicPresence Topic = "presence"
)

// subjectWord maps a topic to its NATS subject token
func subjectWord(topic Topic) string {
	switch topic {
	case TopicPartners:
		return "partners"
	case TopicPresence:
		return "presence"
	default:
		return "moments"
	}
}

// ChangeType the kind of row change
type ChangeType string

const (
	// ChangeCreate a row was inserted
	ChangeCreate ChangeType = "create"
	// ChangeUpdate a row was updated
	ChangeUpdate ChangeType = "update"
	// ChangeDelete a row was deleted
	ChangeDelete ChangeType = "delete"
)

// ChangeEvent one row-level change notification. UserID scopes the event to the
// feed of one user; a change visible to both sides of a partnership is
// published once per side.
type ChangeEvent struct {
	// ID event ID
	ID string `json:"id" validate:"required"`
	// Topic the change feed category
	Topic Topic `json:"topic" validate:"required,oneof=moments partner-relationships presence"`
	// Type the kind of row change
	Type ChangeType `json:"type" validate:"required,oneof=create update delete"`
	// UserID the user whose feed this event belongs to
	UserID string `json:"user_id" validate:"required"`
	// Before the row image prior to the change, if any
	Before json.RawMessage `json:"before,omitempty"`
	// After the row image after the change, if any
	After json.RawMessage `json:"after,omitempty"`
	// Timestamp when the change was recorded
	Timestamp time.Time `json:"timestamp"`
}

// Row pick the image describing the row: the after image when present,
// otherwise the before image
func (e ChangeEvent) Row() json.RawMessage {
	if len(e.After) > 0 {
		return e.After
	}
	return e.Before
}

// ChangeFeed an open change feed
type ChangeFeed interface {
	// ID fetch the feed ID
	ID() string
}

// natsChangeFeed implements ChangeFeed over one NATS subscription
type natsChangeFeed struct {
	id      string
	subject string
	sub     *nats.Subscription
}

// ID fetch the feed ID
func (h *natsChangeFeed) ID() string {
	return h.id
}

// ChangeBus transport for row-change events between the storage layer and
// the realtime layer
type ChangeBus interface {
	// Publish send one change event onto the bus
	Publish(ctxt context.Context, event ChangeEvent) error
	// OpenFeed open a change feed for one user on one topic. Every event
	// published for that (topic, user) pair invokes the handler in publish
	// order.
	OpenFeed(topic Topic, userID string, handler func(ChangeEvent)) (ChangeFeed, error)
	// CloseFeed close one change feed
	CloseFeed(feed ChangeFeed) error
}

// natsChangeBus implements ChangeBus on core NATS subjects. Events are live
// relay only; Postgres remains the durable source of truth, so plain NATS
// subjects are used instead of JetStream streams.
type natsChangeBus struct {
	common.Component
	client        core.NatsClient
	subjectPrefix string
}

// GetNatsChangeBus define a NATS backed ChangeBus
func GetNatsChangeBus(client core.NatsClient, subjectPrefix string) (ChangeBus, error) {
	if subjectPrefix == "" {
		return nil, fmt.Errorf("change bus requires a subject prefix")
	}
	logTags := log.Fields{
		"module":    "storage",
		"component": "change-bus",
		"instance":  subjectPrefix,
	}
	return &natsChangeBus{
		Component:     common.Component{LogTags: logTags},
		client:        client,
		subjectPrefix: subjectPrefix,
	}, nil
}

// subjectFor build the subject carrying one user's events on one topic
func (b *natsChangeBus) subjectFor(topic Topic, userID string) string {
	return fmt.Sprintf("%s.%s.%s", b.subjectPrefix, subjectWord(topic), userID)
}

// Publish send one change event onto the bus
func (b *natsChangeBus) Publish(ctxt context.Context, event ChangeEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	serialized, err := json.Marshal(&event)
	if err != nil {
		log.WithError(err).WithFields(b.LogTags).Errorf(
			"Unable to serialize %s change event for %s", event.Topic, event.UserID,
		)
		return err
	}
	subject := b.subjectFor(event.Topic, event.UserID)
	if err := b.client.NATS().Publish(subject, serialized); err != nil {
		log.WithError(err).WithFields(b.LogTags).Errorf(
			"Failed to publish change event on %s", subject,
		)
		return err
	}
	log.WithFields(b.LogTags).Debugf("Published %s change event on %s", event.Type, subject)
	return nil
}

// OpenFeed open a change feed for one user on one topic
func (b *natsChangeBus) OpenFeed(
	topic Topic, userID string, handler func(ChangeEvent),
) (ChangeFeed, error) {
	subject := b.subjectFor(topic, userID)
	sub, err := b.client.NATS().Subscribe(subject, func(msg *nats.Msg) {
		var event ChangeEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			log.WithError(err).WithFields(b.LogTags).Errorf(
				"Discarding malformed change event on %s", subject,
			)
			return
		}
		handler(event)
	})
	if err != nil {
		log.WithError(err).WithFields(b.LogTags).Errorf(
			"Failed to open change feed on %s", subject,
		)
		return nil, err
	}
	log.WithFields(b.LogTags).Debugf("Opened change feed on %s", subject)
	return &natsChangeFeed{id: uuid.NewString(), subject: subject, sub: sub}, nil
}

// CloseFeed close one change feed
func (b *natsChangeBus) CloseFeed(feed ChangeFeed) error {
	handle, ok := feed.(*natsChangeFeed)
	if !ok || handle.sub == nil {
		return fmt.Errorf("change feed was not opened by this bus")
	}
	if err := handle.sub.Unsubscribe(); err != nil {
		log.WithError(err).WithFields(b.LogTags).Errorf(
			"Failed to close change feed on %s", handle.subject,
		)
		return err
	}
	log.WithFields(b.LogTags).Debugf("Closed change feed on %s", handle.subject)
	return nil
}
