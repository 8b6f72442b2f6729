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
	"testing"

	"github.com/alonet/alonet-backend/storage"
	"github.com/apex/log"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

// fakePartnerStore implements storage.PartnerStore for resolver unit-testing.
// Only CurrentPartnership carries behavior.
type fakePartnerStore struct {
	partnership storage.Partnership
	err         error
}

func (s *fakePartnerStore) SendInvitation(
	ctxt context.Context, userID string,
) (storage.Partnership, error) {
	return storage.Partnership{}, fmt.Errorf("not supported")
}

func (s *fakePartnerStore) AcceptInvitation(
	ctxt context.Context, userID, code string,
) (storage.Partnership, error) {
	return storage.Partnership{}, fmt.Errorf("not supported")
}

func (s *fakePartnerStore) CurrentPartnership(
	ctxt context.Context, userID string,
) (storage.Partnership, error) {
	return s.partnership, s.err
}

func (s *fakePartnerStore) RemovePartner(ctxt context.Context, userID string) error {
	return fmt.Errorf("not supported")
}

func (s *fakePartnerStore) PendingInvitations(
	ctxt context.Context, userID string,
) (sent, received []storage.Partnership, err error) {
	return nil, nil, fmt.Errorf("not supported")
}

func (s *fakePartnerStore) CancelInvitation(ctxt context.Context, userID string) error {
	return fmt.Errorf("not supported")
}

func TestPartnerResolution(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	userA := uuid.NewString()
	userB := uuid.NewString()
	store := &fakePartnerStore{}

	uut, err := GetPartnerResolver(store)
	assert.Nil(err)
	utCtxt, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Case 0: accepted partnership resolves the other side regardless of
	// which column holds the caller
	{
		store.partnership = storage.Partnership{
			UserID: userA, PartnerID: userB, Status: storage.PartnershipAccepted,
		}
		store.err = nil
		partnerID, ok := uut.CurrentPartnerOf(utCtxt, userA)
		assert.True(ok)
		assert.Equal(userB, partnerID)
		partnerID, ok = uut.CurrentPartnerOf(utCtxt, userB)
		assert.True(ok)
		assert.Equal(userA, partnerID)
	}

	// Case 1: no partnership resolves to absent
	{
		store.partnership = storage.Partnership{}
		store.err = storage.ErrNoPartnership
		_, ok := uut.CurrentPartnerOf(utCtxt, userA)
		assert.False(ok)
	}

	// Case 2: a lookup failure is indistinguishable from absent
	{
		store.err = fmt.Errorf("store unreachable")
		_, ok := uut.CurrentPartnerOf(utCtxt, userA)
		assert.False(ok)
	}
}
