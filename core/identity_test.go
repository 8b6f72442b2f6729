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
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/apex/log"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func signTestToken(t *testing.T, secret []byte, subject, email string, ttl time.Duration) string {
	claims := identityTokenClaims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		t.Fatalf("failed to sign test token: %s", err)
	}
	return token
}

func TestIdentityTokenVerification(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	secret := []byte("unit-test-secret")
	uut, err := GetIdentityClient(IdentityConnectParams{
		BaseURL:        "http://127.0.0.1:9999",
		JWTSecret:      string(secret),
		RequestTimeout: time.Second,
	})
	assert.Nil(err)

	utCtxt, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Case 0: valid token resolves the identity
	{
		userID := uuid.NewString()
		token := signTestToken(t, secret, userID, "user@unit-test.dev", time.Minute)
		user, err := uut.VerifyToken(utCtxt, token)
		assert.Nil(err)
		assert.Equal(userID, user.ID)
		assert.Equal("user@unit-test.dev", user.Email)
	}

	// Case 1: token signed with a different secret is rejected
	{
		token := signTestToken(t, []byte("wrong-secret"), uuid.NewString(), "", time.Minute)
		_, err := uut.VerifyToken(utCtxt, token)
		assert.NotNil(err)
	}

	// Case 2: expired token is rejected
	{
		token := signTestToken(t, secret, uuid.NewString(), "", -time.Minute)
		_, err := uut.VerifyToken(utCtxt, token)
		assert.NotNil(err)
	}

	// Case 3: garbage token is rejected
	{
		_, err := uut.VerifyToken(utCtxt, "not-a-token")
		assert.NotNil(err)
	}
}

func TestIdentityCredentialExchange(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	userID := uuid.NewString()
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/token":
			var request map[string]string
			assert.Nil(json.NewDecoder(r.Body).Decode(&request))
			if r.URL.Query().Get("grant_type") == "password" &&
				request["password"] == "correct-horse-1" {
				_ = json.NewEncoder(w).Encode(UserSession{
					AccessToken:  "issued-access-token",
					RefreshToken: "issued-refresh-token",
					User:         AuthenticatedUser{ID: userID, Email: request["email"]},
				})
				return
			}
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"message": "invalid credentials"})
		case "/logout":
			assert.Equal("Bearer issued-access-token", r.Header.Get("Authorization"))
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer provider.Close()

	uut, err := GetIdentityClient(IdentityConnectParams{
		BaseURL:        provider.URL,
		JWTSecret:      "unit-test-secret",
		RequestTimeout: time.Second,
	})
	assert.Nil(err)

	utCtxt, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Case 0: valid credentials produce a session
	{
		session, err := uut.SignIn(utCtxt, "user@unit-test.dev", "correct-horse-1")
		assert.Nil(err)
		assert.Equal("issued-access-token", session.AccessToken)
		assert.Equal(userID, session.User.ID)
	}

	// Case 1: invalid credentials are rejected
	{
		_, err := uut.SignIn(utCtxt, "user@unit-test.dev", "wrong")
		assert.NotNil(err)
	}

	// Case 2: sign-out forwards the bearer token
	{
		assert.Nil(uut.SignOut(utCtxt, "issued-access-token"))
	}
}
