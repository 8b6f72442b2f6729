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
	"regexp"
	"testing"

	"github.com/apex/log"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestPartnershipOtherSide(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	userA := uuid.NewString()
	userB := uuid.NewString()
	partnership := Partnership{UserID: userA, PartnerID: userB}

	// Case 0: both directions resolve to the opposite side
	assert.Equal(userB, partnership.OtherSide(userA))
	assert.Equal(userA, partnership.OtherSide(userB))

	// Case 1: a pending record holds the inviter on both sides
	pending := Partnership{UserID: userA, PartnerID: userA}
	assert.Equal(userA, pending.OtherSide(userA))
}

func TestInvitationCodeShape(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	pattern := regexp.MustCompile(`^[0-9A-F]{8}$`)
	seen := map[string]bool{}
	for itr := 0; itr < 64; itr++ {
		code := newInvitationCode()
		assert.Regexp(pattern, code)
		assert.False(seen[code])
		seen[code] = true
	}
}
