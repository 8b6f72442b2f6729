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
	"net/http"
	"strings"

	"github.com/alonet/alonet-backend/common"
	"github.com/alonet/alonet-backend/realtime"
	"github.com/alwitt/goutils"
	"github.com/apex/log"
)

// APIRestRealtimeHandler REST handler exposing the realtime layer's
// introspection surface
type APIRestRealtimeHandler struct {
	goutils.RestAPIHandler
	directory realtime.ConnectionDirectory
	manager   realtime.SubscriptionManager
}

// GetAPIRestRealtimeHandler define APIRestRealtimeHandler
func GetAPIRestRealtimeHandler(
	directory realtime.ConnectionDirectory,
	manager realtime.SubscriptionManager,
	httpConfig *common.HTTPConfig,
) (APIRestRealtimeHandler, error) {
	logTags := log.Fields{
		"module":    "rest",
		"component": "realtime",
	}
	return APIRestRealtimeHandler{
		RestAPIHandler: buildRestAPIHandler(logTags, httpConfig),
		directory:      directory,
		manager:        manager,
	}, nil
}

// APIRestRespRealtimeStatus response describing the realtime layer's state
type APIRestRespRealtimeStatus struct {
	goutils.RestAPIBaseResponse
	// ConnectedUsers is the number of live connections
	ConnectedUsers int `json:"connected_users"`
	// ConnectedUserIDs are the users holding a live connection
	ConnectedUserIDs []string `json:"connected_user_ids"`
	// ActiveSubscriptions is the number of open change subscriptions
	ActiveSubscriptions int `json:"active_subscriptions"`
	// ActiveSubscriptionIDs are the open change subscription IDs
	ActiveSubscriptionIDs []string `json:"active_subscription_ids"`
	// CallerConnected is whether the caller holds a live connection
	CallerConnected bool `json:"caller_connected"`
	// CallerSubscriptionIDs are the caller's open change subscription IDs
	CallerSubscriptionIDs []string `json:"caller_subscription_ids,omitempty"`
}

// Status godoc
// @Summary Fetch realtime layer status
// @Description Fetch live connection and change subscription introspection data
// @tags Realtime
// @Produce json
// @Success 200 {object} APIRestRespRealtimeStatus "success"
// @Router /v1/realtime/status [get]
func (h APIRestRealtimeHandler) Status(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())

	respBody := APIRestRespRealtimeStatus{
		RestAPIBaseResponse: goutils.RestAPIBaseResponse{
			Success: true, RequestID: h.ReadRequestIDFromContext(r.Context()),
		},
		ConnectedUsers:        h.directory.Count(),
		ConnectedUserIDs:      h.directory.ListUserIDs(),
		ActiveSubscriptions:   h.manager.ActiveCount(),
		ActiveSubscriptionIDs: h.manager.ActiveTopics(),
	}
	if user, ok := GetAuthenticatedUser(r.Context()); ok {
		_, respBody.CallerConnected = h.directory.Lookup(user.ID)
		// Subscription IDs are keyed <topic>_<userID>
		for _, subID := range respBody.ActiveSubscriptionIDs {
			if strings.HasSuffix(subID, "_"+user.ID) {
				respBody.CallerSubscriptionIDs = append(respBody.CallerSubscriptionIDs, subID)
			}
		}
	}
	if err := h.WriteRESTResponse(w, http.StatusOK, respBody, nil); err != nil {
		log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
	}
}

// StatusHandler Wrapper around Status
func (h APIRestRealtimeHandler) StatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.Status(w, r)
	}
}
