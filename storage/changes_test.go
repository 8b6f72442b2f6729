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
	"encoding/json"
	"testing"

	"github.com/apex/log"
	"github.com/stretchr/testify/assert"
)

func TestChangeSubjectWords(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	// Case 0: each topic maps onto its own subject token
	assert.Equal("moments", subjectWord(TopicMoments))
	assert.Equal("partners", subjectWord(TopicPartners))
	assert.Equal("presence", subjectWord(TopicPresence))
}

func TestChangeEventRowImage(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	before := json.RawMessage(`{"state":"before"}`)
	after := json.RawMessage(`{"state":"after"}`)

	// Case 0: the after image wins when present
	{
		event := ChangeEvent{Before: before, After: after}
		assert.Equal(after, event.Row())
	}

	// Case 1: deletes carry only the before image
	{
		event := ChangeEvent{Before: before}
		assert.Equal(before, event.Row())
	}

	// Case 2: an empty event has no row image
	{
		event := ChangeEvent{}
		assert.Empty(event.Row())
	}
}
