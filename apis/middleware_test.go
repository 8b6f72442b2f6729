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
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alonet/alonet-backend/common"
	"github.com/alonet/alonet-backend/core"
	"github.com/apex/log"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

// fakeTokenVerifier implements core.TokenVerifier from a static token table
type fakeTokenVerifier struct {
	identities map[string]core.AuthenticatedUser
}

func (v *fakeTokenVerifier) VerifyToken(
	ctxt context.Context, token string,
) (core.AuthenticatedUser, error) {
	user, ok := v.identities[token]
	if !ok {
		return core.AuthenticatedUser{}, fmt.Errorf("invalid token")
	}
	return user, nil
}

// unitTestHTTPConfig common HTTP config for API unit-tests
func unitTestHTTPConfig() *common.HTTPConfig {
	return &common.HTTPConfig{
		Logging: common.HTTPRequestLogging{
			RequestIDHeader: "Alonet-Request-ID",
			DoNotLogHeaders: []string{"Authorization"},
		},
	}
}

func TestAuthMiddleware(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	userID := uuid.NewString()
	verifier := &fakeTokenVerifier{identities: map[string]core.AuthenticatedUser{
		"valid-token": {ID: userID, Email: "user@unit-test.dev"},
	}}

	uut, err := GetAPIRestAuthMiddleware(verifier, unitTestHTTPConfig())
	assert.Nil(err)

	var observed *core.AuthenticatedUser
	protected := uut.RequireUser(func(w http.ResponseWriter, r *http.Request) {
		user, ok := GetAuthenticatedUser(r.Context())
		assert.True(ok)
		observed = &user
		w.WriteHeader(http.StatusOK)
	})

	// Case 0: missing bearer token is rejected
	{
		observed = nil
		req := httptest.NewRequest(http.MethodGet, "/v1/moments", nil)
		recorder := httptest.NewRecorder()
		protected(recorder, req)
		assert.Equal(http.StatusUnauthorized, recorder.Code)
		assert.Nil(observed)
	}

	// Case 1: invalid bearer token is rejected
	{
		observed = nil
		req := httptest.NewRequest(http.MethodGet, "/v1/moments", nil)
		req.Header.Set("Authorization", "Bearer garbage")
		recorder := httptest.NewRecorder()
		protected(recorder, req)
		assert.Equal(http.StatusUnauthorized, recorder.Code)
		assert.Nil(observed)
	}

	// Case 2: valid bearer token reaches the handler with the resolved user
	{
		observed = nil
		req := httptest.NewRequest(http.MethodGet, "/v1/moments", nil)
		req.Header.Set("Authorization", "Bearer valid-token")
		recorder := httptest.NewRecorder()
		protected(recorder, req)
		assert.Equal(http.StatusOK, recorder.Code)
		assert.NotNil(observed)
		assert.Equal(userID, observed.ID)
	}
}
