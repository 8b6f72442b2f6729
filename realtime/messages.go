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
	"encoding/json"
	"time"
)

// Client to server live-protocol message types
const (
	// MsgAuthenticate bind a user identity to the connection
	MsgAuthenticate = "authenticate"
	// MsgTypingMoment ephemeral composing signal
	MsgTypingMoment = "typing_moment"
)

// Server to client live-protocol message types
const (
	// MsgAuthenticated authentication succeeded
	MsgAuthenticated = "authenticated"
	// MsgAuthError authentication failed, connection stays open
	MsgAuthError = "auth_error"
	// MsgMomentChange a moment row changed
	MsgMomentChange = "moment_change"
	// MsgPartnerChange a partner relationship row changed
	MsgPartnerChange = "partner_change"
	// MsgPresenceChange a presence transition
	MsgPresenceChange = "presence_change"
	// MsgPartnerTyping the partner's composing signal
	MsgPartnerTyping = "partner_typing_moment"
)

// AuthenticateRequest client payload binding an identity to the connection
type AuthenticateRequest struct {
	Token  string `json:"token"`
	UserID string `json:"userId"`
}

// TypingSignal client payload for the ephemeral composing signal
type TypingSignal struct {
	IsTyping bool `json:"isTyping"`
}

// AuthenticatedNotice server payload confirming authentication
type AuthenticatedNotice struct {
	UserID string `json:"userId"`
}

// AuthErrorNotice server payload reporting an authentication failure
type AuthErrorNotice struct {
	Error string `json:"error"`
}

// MomentChangeNotice server payload describing one moment row change
type MomentChangeNotice struct {
	Type      string          `json:"type"`
	Moment    json.RawMessage `json:"moment"`
	Timestamp time.Time       `json:"timestamp"`
}

// PartnerChangeNotice server payload describing one partner relationship change
type PartnerChangeNotice struct {
	Type         string          `json:"type"`
	Relationship json.RawMessage `json:"relationship"`
	Timestamp    time.Time       `json:"timestamp"`
}

// PresenceNotice server payload describing one presence transition
type PresenceNotice struct {
	Event    string    `json:"event"`
	UserID   string    `json:"user_id"`
	OnlineAt time.Time `json:"online_at"`
}

// PartnerTypingNotice server payload relaying the partner's composing signal
type PartnerTypingNotice struct {
	UserID   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}
