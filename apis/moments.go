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
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/alonet/alonet-backend/common"
	"github.com/alonet/alonet-backend/storage"
	"github.com/alwitt/goutils"
	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
)

// APIRestMomentHandler REST handler for moment records
type APIRestMomentHandler struct {
	goutils.RestAPIHandler
	moments  storage.MomentStore
	validate *validator.Validate
}

// GetAPIRestMomentHandler define APIRestMomentHandler
func GetAPIRestMomentHandler(
	moments storage.MomentStore, httpConfig *common.HTTPConfig,
) (APIRestMomentHandler, error) {
	logTags := log.Fields{
		"module":    "rest",
		"component": "moments",
	}
	return APIRestMomentHandler{
		RestAPIHandler: buildRestAPIHandler(logTags, httpConfig),
		moments:        moments,
		validate:       validator.New(),
	}, nil
}

// APIRestReqNewMoment moment creation request parameters
type APIRestReqNewMoment struct {
	Event      string    `json:"event" validate:"required"`
	Note       *string   `json:"note,omitempty"`
	MomentTime time.Time `json:"moment_time" validate:"required"`
	Timezone   string    `json:"timezone" validate:"required"`
}

// APIRestReqMomentUpdate moment update request parameters
type APIRestReqMomentUpdate struct {
	Event      *string    `json:"event,omitempty"`
	Note       *string    `json:"note,omitempty"`
	MomentTime *time.Time `json:"moment_time,omitempty"`
	Timezone   *string    `json:"timezone,omitempty"`
}

// APIRestReqReaction moment reaction request parameters. A null reaction
// clears the existing one.
type APIRestReqReaction struct {
	Reaction *string `json:"reaction"`
}

// APIRestRespMoment response carrying one moment
type APIRestRespMoment struct {
	goutils.RestAPIBaseResponse
	// Moment is the moment record
	Moment storage.Moment `json:"moment"`
}

// APIRestRespMomentList response carrying a list of moments
type APIRestRespMomentList struct {
	goutils.RestAPIBaseResponse
	// Moments are the visible moment records in moment_time order
	Moments []storage.Moment `json:"moments"`
	// UserMoments are the caller's own records from Moments
	UserMoments []storage.Moment `json:"user_moments"`
	// PartnerMoments are the partner's records from Moments
	PartnerMoments []storage.Moment `json:"partner_moments"`
}

// APIRestRespMomentStats response carrying moment statistics
type APIRestRespMomentStats struct {
	goutils.RestAPIBaseResponse
	// Stats are the moment counts over the requested period
	Stats storage.MomentStats `json:"stats"`
}

// momentStatsWindow compute the stats window ending now for one period name
func momentStatsWindow(period string, now time.Time) (time.Time, bool) {
	switch period {
	case "day":
		return now.AddDate(0, 0, -1), true
	case "week":
		return now.AddDate(0, 0, -7), true
	case "month":
		return now.AddDate(0, -1, 0), true
	default:
		return time.Time{}, false
	}
}

// -----------------------------------------------------------------------

// List godoc
// @Summary List visible moments
// @Description List the caller's moments and their partner's, in time order
// @tags Moments
// @Produce json
// @Param date query string false "Restrict to one calendar day (YYYY-MM-DD, UTC)"
// @Param start_date query string false "Earliest moment time (RFC3339)"
// @Param end_date query string false "Latest moment time (RFC3339)"
// @Param limit query int false "Max number of rows"
// @Success 200 {object} APIRestRespMomentList "success"
// @Failure 400 {object} goutils.RestAPIBaseResponse "error"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Router /v1/moments [get]
func (h APIRestMomentHandler) List(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	var respCode int
	var respBody interface{}
	defer func() {
		if err := h.WriteRESTResponse(w, respCode, respBody, nil); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
	}()

	user, ok := GetAuthenticatedUser(r.Context())
	if !ok {
		respCode = http.StatusUnauthorized
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusUnauthorized, "Not authenticated", "")
		return
	}

	query := storage.MomentQuery{}
	queryParams := r.URL.Query()
	if raw := queryParams.Get("date"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			msg := "Invalid date"
			respCode = http.StatusBadRequest
			respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, err.Error())
			return
		}
		dayStart := parsed
		dayEnd := parsed.AddDate(0, 0, 1).Add(-time.Nanosecond)
		query.StartTime = &dayStart
		query.EndTime = &dayEnd
	}
	if raw := queryParams.Get("start_date"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			msg := "Invalid start_date"
			respCode = http.StatusBadRequest
			respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, err.Error())
			return
		}
		query.StartTime = &parsed
	}
	if raw := queryParams.Get("end_date"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			msg := "Invalid end_date"
			respCode = http.StatusBadRequest
			respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, err.Error())
			return
		}
		query.EndTime = &parsed
	}
	if raw := queryParams.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			msg := "Invalid limit"
			respCode = http.StatusBadRequest
			respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, "")
			return
		}
		query.Limit = parsed
	}

	moments, err := h.moments.List(r.Context(), user.ID, query)
	if err != nil {
		msg := "Failed to fetch moments"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusInternalServerError
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusInternalServerError, msg, err.Error())
		return
	}

	userMoments := []storage.Moment{}
	partnerMoments := []storage.Moment{}
	for _, moment := range moments {
		if moment.UserID == user.ID {
			userMoments = append(userMoments, moment)
		} else {
			partnerMoments = append(partnerMoments, moment)
		}
	}

	respCode = http.StatusOK
	respBody = APIRestRespMomentList{
		RestAPIBaseResponse: goutils.RestAPIBaseResponse{
			Success: true, RequestID: h.ReadRequestIDFromContext(r.Context()),
		},
		Moments:        moments,
		UserMoments:    userMoments,
		PartnerMoments: partnerMoments,
	}
}

// ListHandler Wrapper around List
func (h APIRestMomentHandler) ListHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.List(w, r)
	}
}

// -----------------------------------------------------------------------

// Create godoc
// @Summary Record a new moment
// @Description Record a new moment owned by the caller
// @tags Moments
// @Accept json
// @Produce json
// @Param payload body APIRestReqNewMoment true "Moment parameters"
// @Success 200 {object} APIRestRespMoment "success"
// @Failure 400 {object} goutils.RestAPIBaseResponse "error"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Router /v1/moments [post]
func (h APIRestMomentHandler) Create(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	var respCode int
	var respBody interface{}
	defer func() {
		if err := h.WriteRESTResponse(w, respCode, respBody, nil); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
	}()

	user, ok := GetAuthenticatedUser(r.Context())
	if !ok {
		respCode = http.StatusUnauthorized
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusUnauthorized, "Not authenticated", "")
		return
	}

	var params APIRestReqNewMoment
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		msg := "Unable to parse request body"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusBadRequest
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, err.Error())
		return
	}
	if err := h.validate.Struct(&params); err != nil {
		msg := "Invalid moment parameters"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusBadRequest
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, err.Error())
		return
	}

	moment, err := h.moments.Create(r.Context(), storage.NewMoment{
		UserID:     user.ID,
		Event:      params.Event,
		Note:       params.Note,
		MomentTime: params.MomentTime,
		Timezone:   params.Timezone,
	})
	if err != nil {
		msg := "Failed to create moment"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusInternalServerError
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusInternalServerError, msg, err.Error())
		return
	}

	respCode = http.StatusOK
	respBody = APIRestRespMoment{
		RestAPIBaseResponse: goutils.RestAPIBaseResponse{
			Success: true, RequestID: h.ReadRequestIDFromContext(r.Context()),
		},
		Moment: moment,
	}
}

// CreateHandler Wrapper around Create
func (h APIRestMomentHandler) CreateHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.Create(w, r)
	}
}

// -----------------------------------------------------------------------

// Update godoc
// @Summary Update a moment
// @Description Update a moment owned by the caller
// @tags Moments
// @Accept json
// @Produce json
// @Param momentID path string true "Moment ID"
// @Param payload body APIRestReqMomentUpdate true "Fields to change"
// @Success 200 {object} APIRestRespMoment "success"
// @Failure 400 {object} goutils.RestAPIBaseResponse "error"
// @Failure 404 {object} goutils.RestAPIBaseResponse "error"
// @Router /v1/moments/{momentID} [put]
func (h APIRestMomentHandler) Update(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	var respCode int
	var respBody interface{}
	defer func() {
		if err := h.WriteRESTResponse(w, respCode, respBody, nil); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
	}()

	user, ok := GetAuthenticatedUser(r.Context())
	if !ok {
		respCode = http.StatusUnauthorized
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusUnauthorized, "Not authenticated", "")
		return
	}
	momentID := mux.Vars(r)["momentID"]

	var params APIRestReqMomentUpdate
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		msg := "Unable to parse request body"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusBadRequest
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, err.Error())
		return
	}

	moment, err := h.moments.Update(r.Context(), momentID, user.ID, storage.MomentUpdate{
		Event:      params.Event,
		Note:       params.Note,
		MomentTime: params.MomentTime,
		Timezone:   params.Timezone,
	})
	if err != nil {
		if errors.Is(err, storage.ErrMomentNotFound) {
			respCode = http.StatusNotFound
			respBody = h.GetStdRESTErrorMsg(
				r.Context(), http.StatusNotFound, "Moment not found", "",
			)
			return
		}
		msg := "Failed to update moment"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusInternalServerError
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusInternalServerError, msg, err.Error())
		return
	}

	respCode = http.StatusOK
	respBody = APIRestRespMoment{
		RestAPIBaseResponse: goutils.RestAPIBaseResponse{
			Success: true, RequestID: h.ReadRequestIDFromContext(r.Context()),
		},
		Moment: moment,
	}
}

// UpdateHandler Wrapper around Update
func (h APIRestMomentHandler) UpdateHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.Update(w, r)
	}
}

// -----------------------------------------------------------------------

// Delete godoc
// @Summary Delete a moment
// @Description Delete a moment owned by the caller
// @tags Moments
// @Produce json
// @Param momentID path string true "Moment ID"
// @Success 200 {object} goutils.RestAPIBaseResponse "success"
// @Failure 404 {object} goutils.RestAPIBaseResponse "error"
// @Router /v1/moments/{momentID} [delete]
func (h APIRestMomentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	var respCode int
	var respBody interface{}
	defer func() {
		if err := h.WriteRESTResponse(w, respCode, respBody, nil); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
	}()

	user, ok := GetAuthenticatedUser(r.Context())
	if !ok {
		respCode = http.StatusUnauthorized
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusUnauthorized, "Not authenticated", "")
		return
	}
	momentID := mux.Vars(r)["momentID"]

	if err := h.moments.Delete(r.Context(), momentID, user.ID); err != nil {
		if errors.Is(err, storage.ErrMomentNotFound) {
			respCode = http.StatusNotFound
			respBody = h.GetStdRESTErrorMsg(
				r.Context(), http.StatusNotFound, "Moment not found", "",
			)
			return
		}
		msg := "Failed to delete moment"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusInternalServerError
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusInternalServerError, msg, err.Error())
		return
	}

	respCode = http.StatusOK
	respBody = h.GetStdRESTSuccessMsg(r.Context())
}

// DeleteHandler Wrapper around Delete
func (h APIRestMomentHandler) DeleteHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.Delete(w, r)
	}
}

// -----------------------------------------------------------------------

// React godoc
// @Summary React to the partner's moment
// @Description Set or clear the reaction on the partner's moment
// @tags Moments
// @Accept json
// @Produce json
// @Param momentID path string true "Moment ID"
// @Param payload body APIRestReqReaction true "Reaction, null clears"
// @Success 200 {object} APIRestRespMoment "success"
// @Failure 400 {object} goutils.RestAPIBaseResponse "error"
// @Failure 404 {object} goutils.RestAPIBaseResponse "error"
// @Router /v1/moments/{momentID}/reaction [post]
func (h APIRestMomentHandler) React(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	var respCode int
	var respBody interface{}
	defer func() {
		if err := h.WriteRESTResponse(w, respCode, respBody, nil); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
	}()

	user, ok := GetAuthenticatedUser(r.Context())
	if !ok {
		respCode = http.StatusUnauthorized
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusUnauthorized, "Not authenticated", "")
		return
	}
	momentID := mux.Vars(r)["momentID"]

	var params APIRestReqReaction
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		msg := "Unable to parse request body"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusBadRequest
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, err.Error())
		return
	}

	moment, err := h.moments.React(r.Context(), momentID, user.ID, params.Reaction)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrMomentNotFound):
			respCode = http.StatusNotFound
			respBody = h.GetStdRESTErrorMsg(
				r.Context(), http.StatusNotFound, "Moment not found", "",
			)
		case errors.Is(err, storage.ErrOwnMomentReaction):
			respCode = http.StatusBadRequest
			respBody = h.GetStdRESTErrorMsg(
				r.Context(), http.StatusBadRequest, "Cannot react to your own moment", "",
			)
		default:
			msg := "Failed to update reaction"
			log.WithError(err).WithFields(localLogTags).Error(msg)
			respCode = http.StatusInternalServerError
			respBody = h.GetStdRESTErrorMsg(
				r.Context(), http.StatusInternalServerError, msg, err.Error(),
			)
		}
		return
	}

	respCode = http.StatusOK
	respBody = APIRestRespMoment{
		RestAPIBaseResponse: goutils.RestAPIBaseResponse{
			Success: true, RequestID: h.ReadRequestIDFromContext(r.Context()),
		},
		Moment: moment,
	}
}

// ReactHandler Wrapper around React
func (h APIRestMomentHandler) ReactHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.React(w, r)
	}
}

// -----------------------------------------------------------------------

// Stats godoc
// @Summary Fetch moment statistics
// @Description Fetch moment counts for the caller over one period
// @tags Moments
// @Produce json
// @Param period query string true "One of day, week, month"
// @Success 200 {object} APIRestRespMomentStats "success"
// @Failure 400 {object} goutils.RestAPIBaseResponse "error"
// @Router /v1/moments/stats [get]
func (h APIRestMomentHandler) Stats(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	var respCode int
	var respBody interface{}
	defer func() {
		if err := h.WriteRESTResponse(w, respCode, respBody, nil); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
	}()

	user, ok := GetAuthenticatedUser(r.Context())
	if !ok {
		respCode = http.StatusUnauthorized
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusUnauthorized, "Not authenticated", "")
		return
	}

	period := r.URL.Query().Get("period")
	if period == "" {
		period = "week"
	}
	now := time.Now().UTC()
	start, ok := momentStatsWindow(period, now)
	if !ok {
		msg := "Invalid period"
		respCode = http.StatusBadRequest
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, "")
		return
	}

	stats, err := h.moments.Stats(r.Context(), user.ID, period, start, now)
	if err != nil {
		msg := "Failed to compute moment statistics"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusInternalServerError
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusInternalServerError, msg, err.Error())
		return
	}

	respCode = http.StatusOK
	respBody = APIRestRespMomentStats{
		RestAPIBaseResponse: goutils.RestAPIBaseResponse{
			Success: true, RequestID: h.ReadRequestIDFromContext(r.Context()),
		},
		Stats: stats,
	}
}

// StatsHandler Wrapper around Stats
func (h APIRestMomentHandler) StatsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.Stats(w, r)
	}
}
