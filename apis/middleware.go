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
	"net/http"
	"strings"

	"github.com/alonet/alonet-backend/common"
	"github.com/alonet/alonet-backend/core"
	"github.com/alwitt/goutils"
	"github.com/apex/log"
)

// userContextKey request context key carrying the authenticated user
type userContextKey struct{}

// GetAuthenticatedUser fetch the authenticated user from a request context
func GetAuthenticatedUser(ctxt context.Context) (core.AuthenticatedUser, bool) {
	user, ok := ctxt.Value(userContextKey{}).(core.AuthenticatedUser)
	return user, ok
}

// APIRestAuthMiddleware REST middleware enforcing bearer token authentication
type APIRestAuthMiddleware struct {
	goutils.RestAPIHandler
	verifier core.TokenVerifier
}

// GetAPIRestAuthMiddleware define APIRestAuthMiddleware
func GetAPIRestAuthMiddleware(
	verifier core.TokenVerifier, httpConfig *common.HTTPConfig,
) (APIRestAuthMiddleware, error) {
	logTags := log.Fields{
		"module":    "rest",
		"component": "auth-middleware",
	}
	return APIRestAuthMiddleware{
		RestAPIHandler: buildRestAPIHandler(logTags, httpConfig),
		verifier:       verifier,
	}, nil
}

// RequireUser wrap a handler such that it only runs with a verified bearer
// token, with the resolved user placed in the request context
func (h APIRestAuthMiddleware) RequireUser(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		localLogTags := h.GetLogTagsForContext(r.Context())

		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			msg := "No bearer token provided"
			respBody := h.GetStdRESTErrorMsg(r.Context(), http.StatusUnauthorized, msg, "")
			if err := h.WriteRESTResponse(w, http.StatusUnauthorized, respBody, nil); err != nil {
				log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
			}
			return
		}

		user, err := h.verifier.VerifyToken(
			r.Context(), strings.TrimPrefix(header, "Bearer "),
		)
		if err != nil {
			msg := "Invalid or expired token"
			log.WithError(err).WithFields(localLogTags).Info("Rejected bearer token")
			respBody := h.GetStdRESTErrorMsg(r.Context(), http.StatusUnauthorized, msg, "")
			if err := h.WriteRESTResponse(w, http.StatusUnauthorized, respBody, nil); err != nil {
				log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
			}
			return
		}

		next(w, r.WithContext(context.WithValue(r.Context(), userContextKey{}, user)))
	}
}
