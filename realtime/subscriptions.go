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
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alonet/alonet-backend/common"
	"github.com/alonet/alonet-backend/storage"
	"github.com/apex/log"
	"github.com/google/uuid"
)

// SubscriptionManager owns the lifecycle of change feeds per user, per topic.
// A user holds at most one subscription per topic; re-subscribing replaces the
// previous one after closing its feeds.
type SubscriptionManager interface {
	// Subscribe open (or replace) the (userID, topic) subscription. Every
	// change event on the underlying feeds invokes the callback in feed order.
	Subscribe(
		ctxt context.Context, userID string, topic storage.Topic,
		callback func(storage.ChangeEvent),
	) (string, error)
	// Unsubscribe close one subscription by ID; no-op if already closed
	Unsubscribe(subscriptionID string)
	// UnsubscribeAll close every subscription owned by userID. Events already
	// in flight for the closed subscriptions are discarded.
	UnsubscribeAll(userID string)
	// ActiveCount fetch the number of open subscriptions
	ActiveCount() int
	// ActiveTopics fetch the open subscription IDs in sorted order
	ActiveTopics() []string
}

// activeSubscription one open (user, topic) subscription and its feeds
type activeSubscription struct {
	id     string
	nonce  string
	userID string
	topic  storage.Topic
	feeds  []storage.ChangeFeed
}

// subscriptionManagerImpl implements SubscriptionManager
type subscriptionManagerImpl struct {
	common.Component
	lock          sync.Mutex
	bus           storage.ChangeBus
	resolver      PartnerResolver
	subscriptions map[string]*activeSubscription
}

// GetSubscriptionManager define a new SubscriptionManager
func GetSubscriptionManager(
	bus storage.ChangeBus, resolver PartnerResolver,
) (SubscriptionManager, error) {
	logTags := log.Fields{
		"module":    "realtime",
		"component": "subscription-manager",
	}
	return &subscriptionManagerImpl{
		Component:     common.Component{LogTags: logTags},
		bus:           bus,
		resolver:      resolver,
		subscriptions: make(map[string]*activeSubscription),
	}, nil
}

// subscriptionID build the deterministic ID of one (user, topic) subscription
func subscriptionID(topic storage.Topic, userID string) string {
	switch topic {
	case storage.TopicPartners:
		return fmt.Sprintf("partners_%s", userID)
	case storage.TopicPresence:
		return fmt.Sprintf("presence_%s", userID)
	default:
		return fmt.Sprintf("moments_%s", userID)
	}
}

// feedUserIDs compute which users' feeds one subscription covers. The moments
// feed of the accepted partner is included so the subscriber observes partner
// rows they are entitled to read.
func (m *subscriptionManagerImpl) feedUserIDs(
	ctxt context.Context, userID string, topic storage.Topic,
) []string {
	if topic != storage.TopicMoments {
		return []string{userID}
	}
	partnerID, ok := m.resolver.CurrentPartnerOf(ctxt, userID)
	if !ok || partnerID == userID {
		return []string{userID}
	}
	return []string{userID, partnerID}
}

// Subscribe open (or replace) the (userID, topic) subscription
func (m *subscriptionManagerImpl) Subscribe(
	ctxt context.Context, userID string, topic storage.Topic,
	callback func(storage.ChangeEvent),
) (string, error) {
	subID := subscriptionID(topic, userID)

	// Close any previous feed for this key before registering the new one,
	// so a replaced subscription never leaks a duplicate feed
	m.Unsubscribe(subID)

	entry := &activeSubscription{
		id:     subID,
		nonce:  uuid.NewString(),
		userID: userID,
		topic:  topic,
	}
	// Events for a closed or replaced subscription are discarded: the bus may
	// still invoke the handler after unsubscribe, but the registry check below
	// fails once the entry is gone
	handler := func(event storage.ChangeEvent) {
		m.lock.Lock()
		current, ok := m.subscriptions[subID]
		live := ok && current.nonce == entry.nonce
		m.lock.Unlock()
		if !live {
			log.WithFields(m.LogTags).Debugf(
				"Discarded late %s event for closed subscription %s", event.Topic, subID,
			)
			return
		}
		callback(event)
	}

	for _, feedUserID := range m.feedUserIDs(ctxt, userID, topic) {
		feed, err := m.bus.OpenFeed(topic, feedUserID, handler)
		if err != nil {
			log.WithError(err).WithFields(m.LogTags).Errorf(
				"Failed to open %s feed for %s", topic, feedUserID,
			)
			// No partial registration
			for _, opened := range entry.feeds {
				if closeErr := m.bus.CloseFeed(opened); closeErr != nil {
					log.WithError(closeErr).WithFields(m.LogTags).Errorf(
						"Failed to close partially opened %s feed of %s", topic, userID,
					)
				}
			}
			return "", err
		}
		entry.feeds = append(entry.feeds, feed)
	}

	// Register under one critical section. A concurrent Subscribe for the same
	// key may have registered while this one was opening feeds; the surviving
	// entry is swapped out here and its feeds closed, so a lost race never
	// leaks an unreachable feed.
	m.lock.Lock()
	displaced := m.subscriptions[subID]
	m.subscriptions[subID] = entry
	m.lock.Unlock()
	if displaced != nil {
		m.closeFeeds(displaced)
	}

	log.WithFields(m.LogTags).Infof("Opened subscription %s", subID)

	// The presence feed announces the subscriber immediately rather than
	// waiting for a real change
	if topic == storage.TopicPresence {
		now := time.Now().UTC()
		payload, _ := json.Marshal(PresenceNotice{
			Event:    "online",
			UserID:   userID,
			OnlineAt: now,
		})
		handler(storage.ChangeEvent{
			ID:        uuid.NewString(),
			Topic:     storage.TopicPresence,
			Type:      storage.ChangeCreate,
			UserID:    userID,
			After:     payload,
			Timestamp: now,
		})
	}

	return subID, nil
}

// closeFeeds close every bus feed of one subscription entry. Close failures
// never block teardown.
func (m *subscriptionManagerImpl) closeFeeds(entry *activeSubscription) {
	for _, feed := range entry.feeds {
		if err := m.bus.CloseFeed(feed); err != nil {
			log.WithError(err).WithFields(m.LogTags).Errorf(
				"Failed to close %s feed of subscription %s", entry.topic, entry.id,
			)
		}
	}
}

// Unsubscribe close one subscription by ID; no-op if already closed
func (m *subscriptionManagerImpl) Unsubscribe(subscriptionID string) {
	m.lock.Lock()
	entry, ok := m.subscriptions[subscriptionID]
	if ok {
		delete(m.subscriptions, subscriptionID)
	}
	m.lock.Unlock()
	if !ok {
		return
	}
	m.closeFeeds(entry)
	log.WithFields(m.LogTags).Infof("Closed %s subscription %s", entry.topic, subscriptionID)
}

// UnsubscribeAll close every subscription owned by userID
func (m *subscriptionManagerImpl) UnsubscribeAll(userID string) {
	m.lock.Lock()
	owned := []string{}
	for subID, entry := range m.subscriptions {
		if entry.userID == userID {
			owned = append(owned, subID)
		}
	}
	m.lock.Unlock()
	for _, subID := range owned {
		m.Unsubscribe(subID)
	}
}

// ActiveCount fetch the number of open subscriptions
func (m *subscriptionManagerImpl) ActiveCount() int {
	m.lock.Lock()
	defer m.lock.Unlock()
	return len(m.subscriptions)
}

// ActiveTopics fetch the open subscription IDs in sorted order
func (m *subscriptionManagerImpl) ActiveTopics() []string {
	m.lock.Lock()
	defer m.lock.Unlock()
	subIDs := make([]string, 0, len(m.subscriptions))
	for subID := range m.subscriptions {
		subIDs = append(subIDs, subID)
	}
	sort.Strings(subIDs)
	return subIDs
}
