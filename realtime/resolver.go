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

package realtime

import (
	"context"
	"errors"

	"github.com/alonet/alonet-backend/common"
	"github.com/alonet/alonet-backend/storage"
	"github.com/apex/log"
)

// PartnerResolver resolves the accepted partner of a user. A lookup failure is
// not distinguished from "no partner"; callers treat both as "cannot deliver
// to partner".
type PartnerResolver interface {
	// CurrentPartnerOf fetch the accepted partner of userID, if any
	CurrentPartnerOf(ctxt context.Context, userID string) (string, bool)
}

// partnerResolverImpl implements PartnerResolver against the partner store
type partnerResolverImpl struct {
	common.Component
	partners storage.PartnerStore
}

// GetPartnerResolver define a new PartnerResolver
func GetPartnerResolver(partners storage.PartnerStore) (PartnerResolver, error) {
	logTags := log.Fields{
		"module":    "realtime",
		"component": "partner-resolver",
	}
	return &partnerResolverImpl{
		Component: common.Component{LogTags: logTags},
		partners:  partners,
	}, nil
}

// CurrentPartnerOf fetch the accepted partner of userID, if any
func (r *partnerResolverImpl) CurrentPartnerOf(
	ctxt context.Context, userID string,
) (string, bool) {
	partnership, err := r.partners.CurrentPartnership(ctxt, userID)
	if err != nil {
		if !errors.Is(err, storage.ErrNoPartnership) {
			log.WithError(err).WithFields(r.LogTags).Errorf(
				"Partner lookup for %s failed", userID,
			)
		}
		return "", false
	}
	if partnership.Status != storage.PartnershipAccepted {
		return "", false
	}
	return partnership.OtherSide(userID), true
}
