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
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alonet/alonet-backend/storage"
	"github.com/apex/log"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

// fakeChangeFeed implements storage.ChangeFeed for unit-testing
type fakeChangeFeed struct {
	id string
}

func (f *fakeChangeFeed) ID() string {
	return f.id
}

// fakeFeedEntry one open feed within fakeChangeBus
type fakeFeedEntry struct {
	topic   storage.Topic
	userID  string
	handler func(storage.ChangeEvent)
}

// fakeChangeBus implements storage.ChangeBus with synchronous in-process
// delivery
type fakeChangeBus struct {
	lock     sync.Mutex
	feeds    map[string]*fakeFeedEntry
	failOpen map[string]bool
	closed   []string
}

func newFakeChangeBus() *fakeChangeBus {
	return &fakeChangeBus{
		feeds:    make(map[string]*fakeFeedEntry),
		failOpen: make(map[string]bool),
	}
}

func feedKey(topic storage.Topic, userID string) string {
	return fmt.Sprintf("%s/%s", topic, userID)
}

func (b *fakeChangeBus) Publish(ctxt context.Context, event storage.ChangeEvent) error {
	b.lock.Lock()
	handlers := []func(storage.ChangeEvent){}
	for _, entry := range b.feeds {
		if entry.topic == event.Topic && entry.userID == event.UserID {
			handlers = append(handlers, entry.handler)
		}
	}
	b.lock.Unlock()
	for _, handler := range handlers {
		handler(event)
	}
	return nil
}

func (b *fakeChangeBus) OpenFeed(
	topic storage.Topic, userID string, handler func(storage.ChangeEvent),
) (storage.ChangeFeed, error) {
	b.lock.Lock()
	defer b.lock.Unlock()
	if b.failOpen[feedKey(topic, userID)] {
		return nil, fmt.Errorf("feed open rejected")
	}
	feed := &fakeChangeFeed{id: uuid.NewString()}
	b.feeds[feed.id] = &fakeFeedEntry{topic: topic, userID: userID, handler: handler}
	return feed, nil
}

func (b *fakeChangeBus) CloseFeed(feed storage.ChangeFeed) error {
	b.lock.Lock()
	defer b.lock.Unlock()
	if _, ok := b.feeds[feed.ID()]; !ok {
		return fmt.Errorf("unknown feed %s", feed.ID())
	}
	delete(b.feeds, feed.ID())
	b.closed = append(b.closed, feed.ID())
	return nil
}

// openCount fetch the number of open feeds
func (b *fakeChangeBus) openCount() int {
	b.lock.Lock()
	defer b.lock.Unlock()
	return len(b.feeds)
}

// handlersFor fetch the delivery handlers of open feeds on one (topic, user)
func (b *fakeChangeBus) handlersFor(topic storage.Topic, userID string) []func(storage.ChangeEvent) {
	b.lock.Lock()
	defer b.lock.Unlock()
	handlers := []func(storage.ChangeEvent){}
	for _, entry := range b.feeds {
		if entry.topic == topic && entry.userID == userID {
			handlers = append(handlers, entry.handler)
		}
	}
	return handlers
}

// fakeResolver implements PartnerResolver from a static pairing table
type fakeResolver struct {
	partners map[string]string
}

func (r *fakeResolver) CurrentPartnerOf(ctxt context.Context, userID string) (string, bool) {
	partnerID, ok := r.partners[userID]
	return partnerID, ok
}

func TestSubscriptionLifecycle(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	bus := newFakeChangeBus()
	userA := uuid.NewString()
	userB := uuid.NewString()
	resolver := &fakeResolver{partners: map[string]string{userA: userB, userB: userA}}

	uut, err := GetSubscriptionManager(bus, resolver)
	assert.Nil(err)
	utCtxt, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Case 0: nothing active
	assert.Equal(0, uut.ActiveCount())
	assert.Empty(uut.ActiveTopics())

	// Case 1: the moments subscription covers both the user and their partner
	received := []storage.ChangeEvent{}
	{
		subID, err := uut.Subscribe(
			utCtxt, userA, storage.TopicMoments, func(event storage.ChangeEvent) {
				received = append(received, event)
			},
		)
		assert.Nil(err)
		assert.Equal(fmt.Sprintf("moments_%s", userA), subID)
		assert.Equal(1, uut.ActiveCount())
		assert.Len(bus.handlersFor(storage.TopicMoments, userA), 1)
		assert.Len(bus.handlersFor(storage.TopicMoments, userB), 1)
	}

	// Case 2: events on either covered feed reach the callback
	{
		assert.Nil(bus.Publish(utCtxt, storage.ChangeEvent{
			Topic: storage.TopicMoments, Type: storage.ChangeCreate, UserID: userB,
		}))
		assert.Len(received, 1)
		assert.Equal(userB, received[0].UserID)
	}

	// Case 3: the partnership subscription covers only the user's own feed
	{
		subID, err := uut.Subscribe(
			utCtxt, userA, storage.TopicPartners, func(event storage.ChangeEvent) {},
		)
		assert.Nil(err)
		assert.Equal(fmt.Sprintf("partners_%s", userA), subID)
		assert.Len(bus.handlersFor(storage.TopicPartners, userA), 1)
		assert.Len(bus.handlersFor(storage.TopicPartners, userB), 0)
	}

	// Case 4: subscription IDs are listed in sorted order
	{
		listed := uut.ActiveTopics()
		assert.Len(listed, 2)
		assert.True(listed[0] < listed[1])
	}

	// Case 5: unsubscribe-all closes everything, repeat is a no-op
	{
		uut.UnsubscribeAll(userA)
		assert.Equal(0, uut.ActiveCount())
		assert.Equal(0, bus.openCount())
		uut.UnsubscribeAll(userA)
		assert.Equal(0, uut.ActiveCount())
	}
}

func TestSubscriptionReplacement(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	bus := newFakeChangeBus()
	userA := uuid.NewString()
	resolver := &fakeResolver{partners: map[string]string{}}

	uut, err := GetSubscriptionManager(bus, resolver)
	assert.Nil(err)
	utCtxt, cancel := context.WithCancel(context.Background())
	defer cancel()

	firstDeliveries := 0
	firstID, err := uut.Subscribe(
		utCtxt, userA, storage.TopicMoments, func(event storage.ChangeEvent) {
			firstDeliveries++
		},
	)
	assert.Nil(err)

	// Re-subscribing the same (user, topic) replaces the previous feed
	secondDeliveries := 0
	secondID, err := uut.Subscribe(
		utCtxt, userA, storage.TopicMoments, func(event storage.ChangeEvent) {
			secondDeliveries++
		},
	)
	assert.Nil(err)
	assert.Equal(firstID, secondID)
	assert.Equal(1, uut.ActiveCount())
	assert.Equal(1, bus.openCount())
	assert.Len(bus.closed, 1)

	// Only the replacement callback observes new events
	assert.Nil(bus.Publish(utCtxt, storage.ChangeEvent{
		Topic: storage.TopicMoments, Type: storage.ChangeCreate, UserID: userA,
	}))
	assert.Equal(0, firstDeliveries)
	assert.Equal(1, secondDeliveries)
}

// gatedChangeBus wraps fakeChangeBus so the first OpenFeed parks until
// released, simulating a subscribe suspended at the bus boundary
type gatedChangeBus struct {
	*fakeChangeBus
	hold   chan struct{}
	parked chan struct{}
	first  int32
}

func (b *gatedChangeBus) OpenFeed(
	topic storage.Topic, userID string, handler func(storage.ChangeEvent),
) (storage.ChangeFeed, error) {
	if atomic.CompareAndSwapInt32(&b.first, 0, 1) {
		close(b.parked)
		<-b.hold
	}
	return b.fakeChangeBus.OpenFeed(topic, userID, handler)
}

func TestSubscriptionConcurrentResubscribe(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	inner := newFakeChangeBus()
	bus := &gatedChangeBus{
		fakeChangeBus: inner,
		hold:          make(chan struct{}),
		parked:        make(chan struct{}),
	}
	userA := uuid.NewString()
	resolver := &fakeResolver{partners: map[string]string{}}

	uut, err := GetSubscriptionManager(bus, resolver)
	assert.Nil(err)
	utCtxt, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The first subscribe parks inside the bus open call
	firstDone := make(chan error, 1)
	go func() {
		_, err := uut.Subscribe(
			utCtxt, userA, storage.TopicMoments, func(event storage.ChangeEvent) {},
		)
		firstDone <- err
	}()
	<-bus.parked

	// A second subscribe for the same (user, topic) completes meanwhile
	_, err = uut.Subscribe(
		utCtxt, userA, storage.TopicMoments, func(event storage.ChangeEvent) {},
	)
	assert.Nil(err)

	close(bus.hold)
	assert.Nil(<-firstDone)

	// Exactly one registration and one open feed survive the interleaving;
	// the displaced registration's feed was closed again
	assert.Equal(1, uut.ActiveCount())
	assert.Equal(1, inner.openCount())

	// Teardown reaches the surviving feed
	uut.UnsubscribeAll(userA)
	assert.Equal(0, uut.ActiveCount())
	assert.Equal(0, inner.openCount())
}

func TestSubscriptionLateEventsDiscarded(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	bus := newFakeChangeBus()
	userA := uuid.NewString()
	resolver := &fakeResolver{partners: map[string]string{}}

	uut, err := GetSubscriptionManager(bus, resolver)
	assert.Nil(err)
	utCtxt, cancel := context.WithCancel(context.Background())
	defer cancel()

	deliveries := 0
	_, err = uut.Subscribe(
		utCtxt, userA, storage.TopicMoments, func(event storage.ChangeEvent) {
			deliveries++
		},
	)
	assert.Nil(err)

	// Capture the delivery handler as the bus holds it, simulating an event
	// already in flight when the subscription closes
	inflight := bus.handlersFor(storage.TopicMoments, userA)
	assert.Len(inflight, 1)

	uut.UnsubscribeAll(userA)
	inflight[0](storage.ChangeEvent{
		Topic: storage.TopicMoments, Type: storage.ChangeCreate, UserID: userA,
	})
	assert.Equal(0, deliveries)
}

func TestSubscriptionPresenceAnnouncesOnline(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	bus := newFakeChangeBus()
	userA := uuid.NewString()
	resolver := &fakeResolver{partners: map[string]string{}}

	uut, err := GetSubscriptionManager(bus, resolver)
	assert.Nil(err)
	utCtxt, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := []storage.ChangeEvent{}
	before := time.Now().UTC()
	_, err = uut.Subscribe(
		utCtxt, userA, storage.TopicPresence, func(event storage.ChangeEvent) {
			received = append(received, event)
		},
	)
	assert.Nil(err)

	// One synthetic online event arrives immediately on subscribe
	assert.Len(received, 1)
	var notice PresenceNotice
	assert.Nil(json.Unmarshal(received[0].Row(), &notice))
	assert.Equal("online", notice.Event)
	assert.Equal(userA, notice.UserID)
	assert.False(notice.OnlineAt.Before(before))
	assert.WithinDuration(before, notice.OnlineAt, time.Second)
}

func TestSubscriptionOpenFailure(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	bus := newFakeChangeBus()
	userA := uuid.NewString()
	userB := uuid.NewString()
	resolver := &fakeResolver{partners: map[string]string{userA: userB}}

	uut, err := GetSubscriptionManager(bus, resolver)
	assert.Nil(err)
	utCtxt, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The partner-side feed fails to open; the already opened own feed must be
	// closed again, leaving no partial registration
	bus.failOpen[feedKey(storage.TopicMoments, userB)] = true
	_, err = uut.Subscribe(
		utCtxt, userA, storage.TopicMoments, func(event storage.ChangeEvent) {},
	)
	assert.NotNil(err)
	assert.Equal(0, uut.ActiveCount())
	assert.Equal(0, bus.openCount())
	assert.Len(bus.closed, 1)
}
