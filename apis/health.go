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

	"github.com/alonet/alonet-backend/common"
	"github.com/alwitt/goutils"
	"github.com/apex/log"
)

// ReadinessProbe one named dependency readiness check
type ReadinessProbe struct {
	// Name identifies the dependency
	Name string
	// Check reports whether the dependency is usable
	Check func(ctxt context.Context) error
}

// APIRestHealthHandler REST handler for liveness and readiness checks
type APIRestHealthHandler struct {
	goutils.RestAPIHandler
	probes []ReadinessProbe
}

// GetAPIRestHealthHandler define APIRestHealthHandler
func GetAPIRestHealthHandler(
	probes []ReadinessProbe, httpConfig *common.HTTPConfig,
) (APIRestHealthHandler, error) {
	logTags := log.Fields{
		"module":    "rest",
		"component": "health",
	}
	return APIRestHealthHandler{
		RestAPIHandler: buildRestAPIHandler(logTags, httpConfig),
		probes:         probes,
	}, nil
}

// -----------------------------------------------------------------------

// Alive godoc
// @Summary For backend liveness check
// @Description Will return success to indicate the backend process is live
// @tags Health
// @Produce json
// @Success 200 {object} goutils.RestAPIBaseResponse "success"
// @Router /v1/alive [get]
func (h APIRestHealthHandler) Alive(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	if err := h.WriteRESTResponse(
		w, http.StatusOK, h.GetStdRESTSuccessMsg(r.Context()), nil,
	); err != nil {
		log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
	}
}

// AliveHandler Wrapper around Alive
func (h APIRestHealthHandler) AliveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.Alive(w, r)
	}
}

// -----------------------------------------------------------------------

// Ready godoc
// @Summary For backend readiness check
// @Description Will return success if every backing dependency is usable
// @tags Health
// @Produce json
// @Success 200 {object} goutils.RestAPIBaseResponse "success"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Router /v1/ready [get]
func (h APIRestHealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	var respCode int
	var respBody interface{}
	defer func() {
		if err := h.WriteRESTResponse(w, respCode, respBody, nil); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
	}()

	for _, probe := range h.probes {
		if err := probe.Check(r.Context()); err != nil {
			msg := fmt.Sprintf("%s not ready", probe.Name)
			log.WithError(err).WithFields(localLogTags).Error(msg)
			respCode = http.StatusInternalServerError
			respBody = h.GetStdRESTErrorMsg(
				r.Context(), http.StatusInternalServerError, msg, err.Error(),
			)
			return
		}
	}

	respCode = http.StatusOK
	respBody = h.GetStdRESTSuccessMsg(r.Context())
}

// ReadyHandler Wrapper around Ready
func (h APIRestHealthHandler) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.Ready(w, r)
	}
}
