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

// APIRestPartnerHandler REST handler for the partner pairing lifecycle
type APIRestPartnerHandler struct {
	goutils.RestAPIHandler
	partners storage.PartnerStore
	profiles storage.ProfileStore
	validate *validator.Validate
}

// GetAPIRestPartnerHandler define APIRestPartnerHandler
func GetAPIRestPartnerHandler(
	partners storage.PartnerStore,
	profiles storage.ProfileStore,
	httpConfig *common.HTTPConfig,
) (APIRestPartnerHandler, error) {
	logTags := log.Fields{
		"module":    "rest",
		"component": "partners",
	}
	return APIRestPartnerHandler{
		RestAPIHandler: buildRestAPIHandler(logTags, httpConfig),
		partners:       partners,
		profiles:       profiles,
		validate:       validator.New(),
	}, nil
}

// APIRestReqAcceptInvitation invitation acceptance request parameters
type APIRestReqAcceptInvitation struct {
	InvitationCode string `json:"invitation_code" validate:"required,len=8"`
}

// APIRestRespPartnership response carrying one partnership record
type APIRestRespPartnership struct {
	goutils.RestAPIBaseResponse
	// Partnership is the relationship record
	Partnership storage.Partnership `json:"partnership"`
	// Partner is the other side's profile, when resolvable
	Partner *storage.Profile `json:"partner,omitempty"`
}

// APIRestRespInvitations response carrying pending invitations
type APIRestRespInvitations struct {
	goutils.RestAPIBaseResponse
	// Sent are pending invitations created by the caller
	Sent []storage.Partnership `json:"sent"`
	// Received are pending invitations visible to the caller
	Received []storage.Partnership `json:"received"`
}

// partnershipErrorCode map partnership errors to REST status codes
func partnershipErrorCode(err error) (int, string) {
	switch {
	case errors.Is(err, storage.ErrNoPartnership):
		return http.StatusNotFound, "No active partnership"
	case errors.Is(err, storage.ErrAlreadyPaired):
		return http.StatusConflict, "Already paired with a partner"
	case errors.Is(err, storage.ErrInvalidInvitation):
		return http.StatusNotFound, "Invalid or expired invitation code"
	case errors.Is(err, storage.ErrSelfInvitation):
		return http.StatusBadRequest, "Cannot accept your own invitation"
	default:
		return http.StatusInternalServerError, "Partner operation failed"
	}
}

// -----------------------------------------------------------------------

// Invite godoc
// @Summary Create a partner invitation
// @Description Create (or return the pending) partner invitation of the caller
// @tags Partners
// @Produce json
// @Success 200 {object} APIRestRespPartnership "success"
// @Failure 409 {object} goutils.RestAPIBaseResponse "error"
// @Router /v1/partners/invite [post]
func (h APIRestPartnerHandler) Invite(w http.ResponseWriter, r *http.Request) {
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

	invitation, err := h.partners.SendInvitation(r.Context(), user.ID)
	if err != nil {
		code, msg := partnershipErrorCode(err)
		log.WithError(err).WithFields(localLogTags).Info(msg)
		respCode = code
		respBody = h.GetStdRESTErrorMsg(r.Context(), code, msg, err.Error())
		return
	}

	respCode = http.StatusOK
	respBody = APIRestRespPartnership{
		RestAPIBaseResponse: goutils.RestAPIBaseResponse{
			Success: true, RequestID: h.ReadRequestIDFromContext(r.Context()),
		},
		Partnership: invitation,
	}
}

// InviteHandler Wrapper around Invite
func (h APIRestPartnerHandler) InviteHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.Invite(w, r)
	}
}

// -----------------------------------------------------------------------

// Accept godoc
// @Summary Accept a partner invitation
// @Description Accept a pending invitation by its code
// @tags Partners
// @Accept json
// @Produce json
// @Param payload body APIRestReqAcceptInvitation true "Invitation code"
// @Success 200 {object} APIRestRespPartnership "success"
// @Failure 400 {object} goutils.RestAPIBaseResponse "error"
// @Failure 404 {object} goutils.RestAPIBaseResponse "error"
// @Failure 409 {object} goutils.RestAPIBaseResponse "error"
// @Router /v1/partners/accept [post]
func (h APIRestPartnerHandler) Accept(w http.ResponseWriter, r *http.Request) {
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

	var params APIRestReqAcceptInvitation
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		msg := "Unable to parse request body"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusBadRequest
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, err.Error())
		return
	}
	if err := h.validate.Struct(&params); err != nil {
		msg := "Invalid invitation code"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusBadRequest
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, err.Error())
		return
	}

	partnership, err := h.partners.AcceptInvitation(r.Context(), user.ID, params.InvitationCode)
	if err != nil {
		code, msg := partnershipErrorCode(err)
		log.WithError(err).WithFields(localLogTags).Info(msg)
		respCode = code
		respBody = h.GetStdRESTErrorMsg(r.Context(), code, msg, err.Error())
		return
	}

	respCode = http.StatusOK
	respBody = APIRestRespPartnership{
		RestAPIBaseResponse: goutils.RestAPIBaseResponse{
			Success: true, RequestID: h.ReadRequestIDFromContext(r.Context()),
		},
		Partnership: partnership,
	}
}

// AcceptHandler Wrapper around Accept
func (h APIRestPartnerHandler) AcceptHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.Accept(w, r)
	}
}

// -----------------------------------------------------------------------

// Current godoc
// @Summary Fetch the current partnership
// @Description Fetch the caller's accepted partnership and the partner's profile
// @tags Partners
// @Produce json
// @Success 200 {object} APIRestRespPartnership "success"
// @Failure 404 {object} goutils.RestAPIBaseResponse "error"
// @Router /v1/partners/current [get]
func (h APIRestPartnerHandler) Current(w http.ResponseWriter, r *http.Request) {
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

	partnership, err := h.partners.CurrentPartnership(r.Context(), user.ID)
	if err != nil {
		code, msg := partnershipErrorCode(err)
		respCode = code
		respBody = h.GetStdRESTErrorMsg(r.Context(), code, msg, "")
		return
	}

	// The partner profile is informational; its absence does not fail the call
	var partnerProfile *storage.Profile
	if profile, err := h.profiles.Get(
		r.Context(), partnership.OtherSide(user.ID),
	); err == nil {
		partnerProfile = &profile
	} else if !errors.Is(err, storage.ErrProfileNotFound) {
		log.WithError(err).WithFields(localLogTags).Error("Failed to fetch partner profile")
	}

	respCode = http.StatusOK
	respBody = APIRestRespPartnership{
		RestAPIBaseResponse: goutils.RestAPIBaseResponse{
			Success: true, RequestID: h.ReadRequestIDFromContext(r.Context()),
		},
		Partnership: partnership,
		Partner:     partnerProfile,
	}
}

// CurrentHandler Wrapper around Current
func (h APIRestPartnerHandler) CurrentHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.Current(w, r)
	}
}

// -----------------------------------------------------------------------

// Remove godoc
// @Summary Remove the current partner
// @Description Delete the caller's accepted partnership
// @tags Partners
// @Produce json
// @Success 200 {object} goutils.RestAPIBaseResponse "success"
// @Failure 404 {object} goutils.RestAPIBaseResponse "error"
// @Router /v1/partners/current [delete]
func (h APIRestPartnerHandler) Remove(w http.ResponseWriter, r *http.Request) {
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

	if err := h.partners.RemovePartner(r.Context(), user.ID); err != nil {
		code, msg := partnershipErrorCode(err)
		log.WithError(err).WithFields(localLogTags).Info(msg)
		respCode = code
		respBody = h.GetStdRESTErrorMsg(r.Context(), code, msg, "")
		return
	}

	respCode = http.StatusOK
	respBody = h.GetStdRESTSuccessMsg(r.Context())
}

// RemoveHandler Wrapper around Remove
func (h APIRestPartnerHandler) RemoveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.Remove(w, r)
	}
}

// -----------------------------------------------------------------------

// Invitations godoc
// @Summary List pending invitations
// @Description List pending invitations sent by, and visible to, the caller
// @tags Partners
// @Produce json
// @Success 200 {object} APIRestRespInvitations "success"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Router /v1/partners/invitations [get]
func (h APIRestPartnerHandler) Invitations(w http.ResponseWriter, r *http.Request) {
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

	sent, received, err := h.partners.PendingInvitations(r.Context(), user.ID)
	if err != nil {
		msg := "Failed to fetch pending invitations"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusInternalServerError
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusInternalServerError, msg, err.Error())
		return
	}

	respCode = http.StatusOK
	respBody = APIRestRespInvitations{
		RestAPIBaseResponse: goutils.RestAPIBaseResponse{
			Success: true, RequestID: h.ReadRequestIDFromContext(r.Context()),
		},
		Sent:     sent,
		Received: received,
	}
}

// InvitationsHandler Wrapper around Invitations
func (h APIRestPartnerHandler) InvitationsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.Invitations(w, r)
	}
}

// -----------------------------------------------------------------------

// CancelInvitation godoc
// @Summary Cancel the pending invitation
// @Description Delete the caller's pending invitation
// @tags Partners
// @Produce json
// @Success 200 {object} goutils.RestAPIBaseResponse "success"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Router /v1/partners/invitations [delete]
func (h APIRestPartnerHandler) CancelInvitation(w http.ResponseWriter, r *http.Request) {
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

	if err := h.partners.CancelInvitation(r.Context(), user.ID); err != nil {
		msg := "Failed to cancel invitation"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusInternalServerError
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusInternalServerError, msg, err.Error())
		return
	}

	respCode = http.StatusOK
	respBody = h.GetStdRESTSuccessMsg(r.Context())
}

// CancelInvitationHandler Wrapper around CancelInvitation
func (h APIRestPartnerHandler) CancelInvitationHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.CancelInvitation(w, r)
	}
}
