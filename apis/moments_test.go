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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alonet/alonet-backend/core"
	"github.com/alonet/alonet-backend/storage"
	"github.com/apex/log"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
)

// fakeMomentStore implements storage.MomentStore in memory
type fakeMomentStore struct {
	moments map[string]storage.Moment
}

func newFakeMomentStore() *fakeMomentStore {
	return &fakeMomentStore{moments: map[string]storage.Moment{}}
}

func (s *fakeMomentStore) Create(
	ctxt context.Context, newMoment storage.NewMoment,
) (storage.Moment, error) {
	moment := storage.Moment{
		ID:         uuid.NewString(),
		UserID:     newMoment.UserID,
		Event:      newMoment.Event,
		Note:       newMoment.Note,
		MomentTime: newMoment.MomentTime,
		Timezone:   newMoment.Timezone,
		CreatedAt:  time.Now().UTC(),
		UpdatedAt:  time.Now().UTC(),
	}
	s.moments[moment.ID] = moment
	return moment, nil
}

func (s *fakeMomentStore) List(
	ctxt context.Context, userID string, query storage.MomentQuery,
) ([]storage.Moment, error) {
	listed := []storage.Moment{}
	for _, moment := range s.moments {
		listed = append(listed, moment)
	}
	return listed, nil
}

func (s *fakeMomentStore) Update(
	ctxt context.Context, momentID, userID string, update storage.MomentUpdate,
) (storage.Moment, error) {
	moment, ok := s.moments[momentID]
	if !ok || moment.UserID != userID {
		return storage.Moment{}, storage.ErrMomentNotFound
	}
	if update.Event != nil {
		moment.Event = *update.Event
	}
	if update.Note != nil {
		moment.Note = update.Note
	}
	s.moments[momentID] = moment
	return moment, nil
}

func (s *fakeMomentStore) Delete(ctxt context.Context, momentID, userID string) error {
	moment, ok := s.moments[momentID]
	if !ok || moment.UserID != userID {
		return storage.ErrMomentNotFound
	}
	delete(s.moments, momentID)
	return nil
}

func (s *fakeMomentStore) React(
	ctxt context.Context, momentID, reactorID string, reaction *string,
) (storage.Moment, error) {
	moment, ok := s.moments[momentID]
	if !ok {
		return storage.Moment{}, storage.ErrMomentNotFound
	}
	if moment.UserID == reactorID {
		return storage.Moment{}, storage.ErrOwnMomentReaction
	}
	moment.Reaction = reaction
	s.moments[momentID] = moment
	return moment, nil
}

func (s *fakeMomentStore) Stats(
	ctxt context.Context, userID string, period string, start, end time.Time,
) (storage.MomentStats, error) {
	stats := storage.MomentStats{Period: period, StartDate: start, EndDate: end}
	for _, moment := range s.moments {
		stats.TotalMoments++
		if moment.UserID == userID {
			stats.UserMomentsCount++
		} else {
			stats.PartnerMomentsCount++
		}
	}
	return stats, nil
}

// momentTestRouter route moment API requests with the given user already
// authenticated
func momentTestRouter(uut APIRestMomentHandler, user core.AuthenticatedUser) *mux.Router {
	withUser := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			next(w, r.WithContext(
				context.WithValue(r.Context(), userContextKey{}, user),
			))
		}
	}
	router := mux.NewRouter()
	momentsRouter := RegisterPathPrefix(router, "/v1/moments", MethodHandlers{
		http.MethodGet:  withUser(uut.ListHandler()),
		http.MethodPost: withUser(uut.CreateHandler()),
	})
	RegisterPathPrefix(momentsRouter, "/stats", MethodHandlers{
		http.MethodGet: withUser(uut.StatsHandler()),
	})
	perMomentRouter := RegisterPathPrefix(momentsRouter, "/{momentID}", MethodHandlers{
		http.MethodPut:    withUser(uut.UpdateHandler()),
		http.MethodDelete: withUser(uut.DeleteHandler()),
	})
	RegisterPathPrefix(perMomentRouter, "/reaction", MethodHandlers{
		http.MethodPost: withUser(uut.ReactHandler()),
	})
	return router
}

func TestMomentAPIs(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	userID := uuid.NewString()
	partnerID := uuid.NewString()
	store := newFakeMomentStore()

	uut, err := GetAPIRestMomentHandler(store, unitTestHTTPConfig())
	assert.Nil(err)
	router := momentTestRouter(uut, core.AuthenticatedUser{ID: userID})

	// Case 0: create a moment
	var created storage.Moment
	{
		payload, err := json.Marshal(APIRestReqNewMoment{
			Event:      "date-night",
			MomentTime: time.Now().UTC(),
			Timezone:   "America/New_York",
		})
		assert.Nil(err)
		req := httptest.NewRequest(http.MethodPost, "/v1/moments", bytes.NewReader(payload))
		recorder := httptest.NewRecorder()
		router.ServeHTTP(recorder, req)
		assert.Equal(http.StatusOK, recorder.Code)
		var resp APIRestRespMoment
		assert.Nil(json.NewDecoder(recorder.Body).Decode(&resp))
		assert.True(resp.Success)
		assert.NotEmpty(resp.Moment.ID)
		assert.Equal(userID, resp.Moment.UserID)
		created = resp.Moment
	}

	// Case 1: creation parameters are validated
	{
		payload, err := json.Marshal(map[string]string{"event": "date-night"})
		assert.Nil(err)
		req := httptest.NewRequest(http.MethodPost, "/v1/moments", bytes.NewReader(payload))
		recorder := httptest.NewRecorder()
		router.ServeHTTP(recorder, req)
		assert.Equal(http.StatusBadRequest, recorder.Code)
	}

	// Case 2: list returns the created moment
	{
		req := httptest.NewRequest(http.MethodGet, "/v1/moments", nil)
		recorder := httptest.NewRecorder()
		router.ServeHTTP(recorder, req)
		assert.Equal(http.StatusOK, recorder.Code)
		var resp APIRestRespMomentList
		assert.Nil(json.NewDecoder(recorder.Body).Decode(&resp))
		assert.Len(resp.Moments, 1)
		assert.Equal(created.ID, resp.Moments[0].ID)
		assert.Len(resp.UserMoments, 1)
		assert.Empty(resp.PartnerMoments)
	}

	// Case 3: reacting to one's own moment is rejected
	{
		payload, err := json.Marshal(APIRestReqReaction{Reaction: stringPtr("❤️")})
		assert.Nil(err)
		req := httptest.NewRequest(
			http.MethodPost,
			fmt.Sprintf("/v1/moments/%s/reaction", created.ID),
			bytes.NewReader(payload),
		)
		recorder := httptest.NewRecorder()
		router.ServeHTTP(recorder, req)
		assert.Equal(http.StatusBadRequest, recorder.Code)
	}

	// Case 4: the partner can react to the moment
	{
		partnerRouter := momentTestRouter(uut, core.AuthenticatedUser{ID: partnerID})
		payload, err := json.Marshal(APIRestReqReaction{Reaction: stringPtr("❤️")})
		assert.Nil(err)
		req := httptest.NewRequest(
			http.MethodPost,
			fmt.Sprintf("/v1/moments/%s/reaction", created.ID),
			bytes.NewReader(payload),
		)
		recorder := httptest.NewRecorder()
		partnerRouter.ServeHTTP(recorder, req)
		assert.Equal(http.StatusOK, recorder.Code)
		var resp APIRestRespMoment
		assert.Nil(json.NewDecoder(recorder.Body).Decode(&resp))
		assert.NotNil(resp.Moment.Reaction)
	}

	// Case 5: updating an unknown moment returns not-found
	{
		payload, err := json.Marshal(APIRestReqMomentUpdate{Event: stringPtr("anniversary")})
		assert.Nil(err)
		req := httptest.NewRequest(
			http.MethodPut,
			fmt.Sprintf("/v1/moments/%s", uuid.NewString()),
			bytes.NewReader(payload),
		)
		recorder := httptest.NewRecorder()
		router.ServeHTTP(recorder, req)
		assert.Equal(http.StatusNotFound, recorder.Code)
	}

	// Case 6: stats over a known period
	{
		req := httptest.NewRequest(http.MethodGet, "/v1/moments/stats?period=week", nil)
		recorder := httptest.NewRecorder()
		router.ServeHTTP(recorder, req)
		assert.Equal(http.StatusOK, recorder.Code)
		var resp APIRestRespMomentStats
		assert.Nil(json.NewDecoder(recorder.Body).Decode(&resp))
		assert.Equal("week", resp.Stats.Period)
		assert.Equal(1, resp.Stats.TotalMoments)
	}

	// Case 7: stats with an unknown period is rejected
	{
		req := httptest.NewRequest(http.MethodGet, "/v1/moments/stats?period=decade", nil)
		recorder := httptest.NewRecorder()
		router.ServeHTTP(recorder, req)
		assert.Equal(http.StatusBadRequest, recorder.Code)
	}

	// Case 8: delete the moment
	{
		req := httptest.NewRequest(
			http.MethodDelete, fmt.Sprintf("/v1/moments/%s", created.ID), nil,
		)
		recorder := httptest.NewRecorder()
		router.ServeHTTP(recorder, req)
		assert.Equal(http.StatusOK, recorder.Code)
		assert.Empty(store.moments)
	}
}

func stringPtr(v string) *string {
	return &v
}
