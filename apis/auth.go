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
	"net/http"
	"strings"

	"github.com/alonet/alonet-backend/common"
	"github.com/alonet/alonet-backend/core"
	"github.com/alonet/alonet-backend/storage"
	"github.com/alwitt/goutils"
	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
)

// APIRestAuthHandler REST handler for credential exchange with the identity
// provider
type APIRestAuthHandler struct {
	goutils.RestAPIHandler
	identity core.IdentityClient
	profiles storage.ProfileStore
	validate *validator.Validate
}

// GetAPIRestAuthHandler define APIRestAuthHandler
func GetAPIRestAuthHandler(
	identity core.IdentityClient,
	profiles storage.ProfileStore,
	httpConfig *common.HTTPConfig,
) (APIRestAuthHandler, error) {
	logTags := log.Fields{
		"module":    "rest",
		"component": "auth",
	}
	return APIRestAuthHandler{
		RestAPIHandler: buildRestAPIHandler(logTags, httpConfig),
		identity:       identity,
		profiles:       profiles,
		validate:       validator.New(),
	}, nil
}

// APIRestReqSignUp sign-up request parameters
type APIRestReqSignUp struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
	FullName string `json:"full_name" validate:"required"`
}

// APIRestReqSignIn sign-in request parameters
type APIRestReqSignIn struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// APIRestReqRefresh session refresh request parameters
type APIRestReqRefresh struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// APIRestRespSession response carrying an identity provider session
type APIRestRespSession struct {
	goutils.RestAPIBaseResponse
	// Session is the issued token pair
	Session core.UserSession `json:"session"`
}

// -----------------------------------------------------------------------

// SignUp godoc
// @Summary Register a new user
// @Description Register a new user with the identity provider and create the
// matching profile row
// @tags Auth
// @Accept json
// @Produce json
// @Param payload body APIRestReqSignUp true "Sign-up parameters"
// @Success 200 {object} APIRestRespSession "success"
// @Failure 400 {object} goutils.RestAPIBaseResponse "error"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Router /v1/auth/signup [post]
func (h APIRestAuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	var respCode int
	var respBody interface{}
	defer func() {
		if err := h.WriteRESTResponse(w, respCode, respBody, nil); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
	}()

	var params APIRestReqSignUp
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		msg := "Unable to parse request body"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusBadRequest
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, err.Error())
		return
	}
	if err := h.validate.Struct(&params); err != nil {
		msg := "Invalid sign-up parameters"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusBadRequest
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, err.Error())
		return
	}

	session, err := h.identity.SignUp(
		r.Context(), strings.ToLower(params.Email), params.Password, params.FullName,
	)
	if err != nil {
		msg := "Sign-up rejected by identity provider"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusBadRequest
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, err.Error())
		return
	}

	// The profile row mirrors the provider's user record
	if _, err := h.profiles.Upsert(
		r.Context(), session.User.ID, session.User.Email, &params.FullName,
	); err != nil {
		msg := "Failed to create user profile"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusInternalServerError
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusInternalServerError, msg, err.Error())
		return
	}

	respCode = http.StatusOK
	respBody = APIRestRespSession{
		RestAPIBaseResponse: goutils.RestAPIBaseResponse{
			Success: true, RequestID: h.ReadRequestIDFromContext(r.Context()),
		},
		Session: session,
	}
}

// SignUpHandler Wrapper around SignUp
func (h APIRestAuthHandler) SignUpHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.SignUp(w, r)
	}
}

// -----------------------------------------------------------------------

// SignIn godoc
// @Summary Exchange credentials for a session
// @Description Exchange email and password for an identity provider session
// @tags Auth
// @Accept json
// @Produce json
// @Param payload body APIRestReqSignIn true "Sign-in parameters"
// @Success 200 {object} APIRestRespSession "success"
// @Failure 400 {object} goutils.RestAPIBaseResponse "error"
// @Failure 401 {object} goutils.RestAPIBaseResponse "error"
// @Router /v1/auth/signin [post]
func (h APIRestAuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	var respCode int
	var respBody interface{}
	defer func() {
		if err := h.WriteRESTResponse(w, respCode, respBody, nil); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
	}()

	var params APIRestReqSignIn
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		msg := "Unable to parse request body"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusBadRequest
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, err.Error())
		return
	}
	if err := h.validate.Struct(&params); err != nil {
		msg := "Invalid sign-in parameters"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusBadRequest
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, err.Error())
		return
	}

	session, err := h.identity.SignIn(r.Context(), strings.ToLower(params.Email), params.Password)
	if err != nil {
		msg := "Invalid credentials"
		log.WithError(err).WithFields(localLogTags).Info(msg)
		respCode = http.StatusUnauthorized
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusUnauthorized, msg, "")
		return
	}

	respCode = http.StatusOK
	respBody = APIRestRespSession{
		RestAPIBaseResponse: goutils.RestAPIBaseResponse{
			Success: true, RequestID: h.ReadRequestIDFromContext(r.Context()),
		},
		Session: session,
	}
}

// SignInHandler Wrapper around SignIn
func (h APIRestAuthHandler) SignInHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.SignIn(w, r)
	}
}

// -----------------------------------------------------------------------

// Refresh godoc
// @Summary Refresh a session
// @Description Exchange a refresh token for a new identity provider session
// @tags Auth
// @Accept json
// @Produce json
// @Param payload body APIRestReqRefresh true "Refresh parameters"
// @Success 200 {object} APIRestRespSession "success"
// @Failure 400 {object} goutils.RestAPIBaseResponse "error"
// @Failure 401 {object} goutils.RestAPIBaseResponse "error"
// @Router /v1/auth/refresh [post]
func (h APIRestAuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	var respCode int
	var respBody interface{}
	defer func() {
		if err := h.WriteRESTResponse(w, respCode, respBody, nil); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
	}()

	var params APIRestReqRefresh
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		msg := "Unable to parse request body"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusBadRequest
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, err.Error())
		return
	}
	if err := h.validate.Struct(&params); err != nil {
		msg := "Invalid refresh parameters"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusBadRequest
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, err.Error())
		return
	}

	session, err := h.identity.RefreshSession(r.Context(), params.RefreshToken)
	if err != nil {
		msg := "Invalid or expired refresh token"
		log.WithError(err).WithFields(localLogTags).Info(msg)
		respCode = http.StatusUnauthorized
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusUnauthorized, msg, "")
		return
	}

	respCode = http.StatusOK
	respBody = APIRestRespSession{
		RestAPIBaseResponse: goutils.RestAPIBaseResponse{
			Success: true, RequestID: h.ReadRequestIDFromContext(r.Context()),
		},
		Session: session,
	}
}

// RefreshHandler Wrapper around Refresh
func (h APIRestAuthHandler) RefreshHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.Refresh(w, r)
	}
}

// -----------------------------------------------------------------------

// SignOut godoc
// @Summary Revoke the caller's session
// @Description Revoke the session behind the presented bearer token
// @tags Auth
// @Produce json
// @Success 200 {object} goutils.RestAPIBaseResponse "success"
// @Failure 401 {object} goutils.RestAPIBaseResponse "error"
// @Router /v1/auth/signout [post]
func (h APIRestAuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	var respCode int
	var respBody interface{}
	defer func() {
		if err := h.WriteRESTResponse(w, respCode, respBody, nil); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
	}()

	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		msg := "No bearer token provided"
		respCode = http.StatusUnauthorized
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusUnauthorized, msg, "")
		return
	}

	// Sign-out failures are not surfaced; the token expires on its own
	if err := h.identity.SignOut(r.Context(), strings.TrimPrefix(header, "Bearer ")); err != nil {
		log.WithError(err).WithFields(localLogTags).Info("Identity provider sign-out failed")
	}
	respCode = http.StatusOK
	respBody = h.GetStdRESTSuccessMsg(r.Context())
}

// SignOutHandler Wrapper around SignOut
func (h APIRestAuthHandler) SignOutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.SignOut(w, r)
	}
}
