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

	"github.com/alonet/alonet-backend/common"
	"github.com/alonet/alonet-backend/storage"
	"github.com/alwitt/goutils"
	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
)

// APIRestUserHandler REST handler for user profiles
type APIRestUserHandler struct {
	goutils.RestAPIHandler
	profiles storage.ProfileStore
	validate *validator.Validate
}

// GetAPIRestUserHandler define APIRestUserHandler
func GetAPIRestUserHandler(
	profiles storage.ProfileStore, httpConfig *common.HTTPConfig,
) (APIRestUserHandler, error) {
	logTags := log.Fields{
		"module":    "rest",
		"component": "users",
	}
	return APIRestUserHandler{
		RestAPIHandler: buildRestAPIHandler(logTags, httpConfig),
		profiles:       profiles,
		validate:       validator.New(),
	}, nil
}

// APIRestReqProfileUpdate profile update request parameters
type APIRestReqProfileUpdate struct {
	FullName  *string `json:"full_name,omitempty"`
	AvatarURL *string `json:"avatar_url,omitempty" validate:"omitempty,uri"`
}

// APIRestRespProfile response carrying one user profile
type APIRestRespProfile struct {
	goutils.RestAPIBaseResponse
	// Profile is the user profile record
	Profile storage.Profile `json:"profile"`
}

// -----------------------------------------------------------------------

// GetProfile godoc
// @Summary Fetch the caller's profile
// @Description Fetch the caller's profile row
// @tags Users
// @Produce json
// @Success 200 {object} APIRestRespProfile "success"
// @Failure 404 {object} goutils.RestAPIBaseResponse "error"
// @Router /v1/users/profile [get]
func (h APIRestUserHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
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

	profile, err := h.profiles.Get(r.Context(), user.ID)
	if err != nil {
		if errors.Is(err, storage.ErrProfileNotFound) {
			respCode = http.StatusNotFound
			respBody = h.GetStdRESTErrorMsg(
				r.Context(), http.StatusNotFound, "Profile not found", "",
			)
			return
		}
		msg := "Failed to fetch profile"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusInternalServerError
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusInternalServerError, msg, err.Error())
		return
	}

	respCode = http.StatusOK
	respBody = APIRestRespProfile{
		RestAPIBaseResponse: goutils.RestAPIBaseResponse{
			Success: true, RequestID: h.ReadRequestIDFromContext(r.Context()),
		},
		Profile: profile,
	}
}

// GetProfileHandler Wrapper around GetProfile
func (h APIRestUserHandler) GetProfileHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.GetProfile(w, r)
	}
}

// -----------------------------------------------------------------------

// UpdateProfile godoc
// @Summary Update the caller's profile
// @Description Change mutable fields of the caller's profile row
// @tags Users
// @Accept json
// @Produce json
// @Param payload body APIRestReqProfileUpdate true "Fields to change"
// @Success 200 {object} APIRestRespProfile "success"
// @Failure 400 {object} goutils.RestAPIBaseResponse "error"
// @Failure 404 {object} goutils.RestAPIBaseResponse "error"
// @Router /v1/users/profile [put]
func (h APIRestUserHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
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

	var params APIRestReqProfileUpdate
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		msg := "Unable to parse request body"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusBadRequest
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, err.Error())
		return
	}
	if err := h.validate.Struct(&params); err != nil {
		msg := "Invalid profile parameters"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusBadRequest
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, err.Error())
		return
	}

	profile, err := h.profiles.Update(r.Context(), user.ID, storage.ProfileUpdate{
		FullName:  params.FullName,
		AvatarURL: params.AvatarURL,
	})
	if err != nil {
		if errors.Is(err, storage.ErrProfileNotFound) {
			respCode = http.StatusNotFound
			respBody = h.GetStdRESTErrorMsg(
				r.Context(), http.StatusNotFound, "Profile not found", "",
			)
			return
		}
		msg := "Failed to update profile"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusInternalServerError
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusInternalServerError, msg, err.Error())
		return
	}

	respCode = http.StatusOK
	respBody = APIRestRespProfile{
		RestAPIBaseResponse: goutils.RestAPIBaseResponse{
			Success: true, RequestID: h.ReadRequestIDFromContext(r.Context()),
		},
		Profile: profile,
	}
}

// UpdateProfileHandler Wrapper around UpdateProfile
func (h APIRestUserHandler) UpdateProfileHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.UpdateProfile(w, r)
	}
}

// -----------------------------------------------------------------------

// DeleteProfile godoc
// @Summary Delete the caller's profile
// @Description Remove the caller's profile row
// @tags Users
// @Produce json
// @Success 200 {object} goutils.RestAPIBaseResponse "success"
// @Failure 404 {object} goutils.RestAPIBaseResponse "error"
// @Router /v1/users/profile [delete]
func (h APIRestUserHandler) DeleteProfile(w http.ResponseWriter, r *http.Request) {
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

	if err := h.profiles.Delete(r.Context(), user.ID); err != nil {
		if errors.Is(err, storage.ErrProfileNotFound) {
			respCode = http.StatusNotFound
			respBody = h.GetStdRESTErrorMsg(
				r.Context(), http.StatusNotFound, "Profile not found", "",
			)
			return
		}
		msg := "Failed to delete profile"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusInternalServerError
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusInternalServerError, msg, err.Error())
		return
	}

	respCode = http.StatusOK
	respBody = h.GetStdRESTSuccessMsg(r.Context())
}

// DeleteProfileHandler Wrapper around DeleteProfile
func (h APIRestUserHandler) DeleteProfileHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.DeleteProfile(w, r)
	}
}
