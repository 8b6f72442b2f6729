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

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alonet/alonet-backend/common"
	"github.com/alonet/alonet-backend/core"
	"github.com/apex/log"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Partnership status values
const (
	PartnershipPending  = "pending"
	PartnershipAccepted = "accepted"
	PartnershipRejected = "rejected"
)

// Partnership a relationship record between two users. A pending record holds
// the inviter on both sides until the invitation is accepted.
type Partnership struct {
	ID             string     `json:"id"`
	UserID         string     `json:"user_id"`
	PartnerID      string     `json:"partner_id"`
	Status         string     `json:"status"`
	InvitationCode *string    `json:"invitation_code,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	AcceptedAt     *time.Time `json:"accepted_at,omitempty"`
}

// OtherSide fetch the partner of userID within this partnership
func (p Partnership) OtherSide(userID string) string {
	if p.UserID == userID {
		return p.PartnerID
	}
	return p.UserID
}

// Partnership operation errors
var (
	// ErrNoPartnership no accepted partnership exists
	ErrNoPartnership = errors.New("no active partnership found")
	// ErrAlreadyPaired the user already has an accepted partnership
	ErrAlreadyPaired = errors.New("user already has an active partner relationship")
	// ErrInvalidInvitation no pending invitation matches the given code
	ErrInvalidInvitation = errors.New("invalid or expired invitation code")
	// ErrSelfInvitation a user tried to accept their own invitation
	ErrSelfInvitation = errors.New("cannot accept your own invitation")
)

// PartnerStore manage partner relationship records
type PartnerStore interface {
	// SendInvitation create a pending invitation for userID, or return the
	// already pending one
	SendInvitation(ctxt context.Context, userID string) (Partnership, error)
	// AcceptInvitation accept a pending invitation by code
	AcceptInvitation(ctxt context.Context, userID, code string) (Partnership, error)
	// CurrentPartnership fetch the accepted partnership involving userID
	CurrentPartnership(ctxt context.Context, userID string) (Partnership, error)
	// RemovePartner delete the accepted partnership involving userID
	RemovePartner(ctxt context.Context, userID string) error
	// PendingInvitations fetch pending invitations sent by, and visible to, userID
	PendingInvitations(ctxt context.Context, userID string) (sent, received []Partnership, err error)
	// CancelInvitation delete userID's pending invitation
	CancelInvitation(ctxt context.Context, userID string) error
}

// partnerStoreImpl implements PartnerStore
type partnerStoreImpl struct {
	common.Component
	db  core.SQLClient
	bus ChangeBus
}

// GetPartnerStore define a new PartnerStore
func GetPartnerStore(db core.SQLClient, bus ChangeBus) (PartnerStore, error) {
	logTags := log.Fields{
		"module":    "storage",
		"component": "partner-store",
	}
	return &partnerStoreImpl{
		Component: common.Component{LogTags: logTags},
		db:        db,
		bus:       bus,
	}, nil
}

const partnershipColumns = `id, user_id, partner_id, status, invitation_code,
	created_at, updated_at, accepted_at`

// scanPartnership read one partnership row
func scanPartnership(row pgx.Row) (Partnership, error) {
	var p Partnership
	err := row.Scan(
		&p.ID, &p.UserID, &p.PartnerID, &p.Status, &p.InvitationCode,
		&p.CreatedAt, &p.UpdatedAt, &p.AcceptedAt,
	)
	return p, err
}

// publishChange publish one partnership change event per involved user.
// Failures are logged and swallowed; the row mutation already committed and
// readers recover the state on their next query.
func (s *partnerStoreImpl) publishChange(
	ctxt context.Context, changeType ChangeType, before, after *Partnership,
) {
	image := after
	if image == nil {
		image = before
	}
	if image == nil {
		return
	}
	targets := []string{image.UserID}
	if image.PartnerID != image.UserID {
		targets = append(targets, image.PartnerID)
	}
	var beforeRaw, afterRaw json.RawMessage
	if before != nil {
		beforeRaw, _ = json.Marshal(before)
	}
	if after != nil {
		afterRaw, _ = json.Marshal(after)
	}
	for _, target := range targets {
		event := ChangeEvent{
			Topic:  TopicPartners,
			Type:   changeType,
			UserID: target,
			Before: beforeRaw,
			After:  afterRaw,
		}
		if err := s.bus.Publish(ctxt, event); err != nil {
			log.WithError(err).WithFields(s.LogTags).Errorf(
				"Failed to publish partnership %s event for %s", changeType, target,
			)
		}
	}
}

// newInvitationCode build a short shareable invitation code
func newInvitationCode() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

// SendInvitation create a pending invitation for userID, or return the
// already pending one
func (s *partnerStoreImpl) SendInvitation(
	ctxt context.Context, userID string,
) (Partnership, error) {
	// An accepted partnership blocks new invitations
	if _, err := s.CurrentPartnership(ctxt, userID); err == nil {
		return Partnership{}, ErrAlreadyPaired
	} else if !errors.Is(err, ErrNoPartnership) {
		return Partnership{}, err
	}

	// Reuse an existing pending invitation
	existing, err := scanPartnership(s.db.Pool().QueryRow(
		ctxt,
		fmt.Sprintf(
			`SELECT %s FROM partner_relationships WHERE user_id = $1 AND status = $2`,
			partnershipColumns,
		),
		userID, PartnershipPending,
	))
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		log.WithError(err).WithFields(s.LogTags).Errorf(
			"Failed to check pending invitations of %s", userID,
		)
		return Partnership{}, err
	}

	// The inviter temporarily holds both sides of the record
	code := newInvitationCode()
	created, err := scanPartnership(s.db.Pool().QueryRow(
		ctxt,
		fmt.Sprintf(
			`INSERT INTO partner_relationships
				(id, user_id, partner_id, status, invitation_code, created_at, updated_at)
			VALUES ($1, $2, $2, $3, $4, now(), now())
			RETURNING %s`,
			partnershipColumns,
		),
		uuid.NewString(), userID, PartnershipPending, code,
	))
	if err != nil {
		log.WithError(err).WithFields(s.LogTags).Errorf(
			"Failed to create invitation for %s", userID,
		)
		return Partnership{}, err
	}

	s.publishChange(ctxt, ChangeCreate, nil, &created)
	log.WithFields(s.LogTags).Infof("User %s created invitation %s", userID, code)
	return created, nil
}

// AcceptInvitation accept a pending invitation by code
func (s *partnerStoreImpl) AcceptInvitation(
	ctxt context.Context, userID, code string,
) (Partnership, error) {
	// An accepted partnership blocks accepting another invitation
	if _, err := s.CurrentPartnership(ctxt, userID); err == nil {
		return Partnership{}, ErrAlreadyPaired
	} else if !errors.Is(err, ErrNoPartnership) {
		return Partnership{}, err
	}

	invitation, err := scanPartnership(s.db.Pool().QueryRow(
		ctxt,
		fmt.Sprintf(
			`SELECT %s FROM partner_relationships
			WHERE invitation_code = $1 AND status = $2`,
			partnershipColumns,
		),
		strings.ToUpper(code), PartnershipPending,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Partnership{}, ErrInvalidInvitation
		}
		log.WithError(err).WithFields(s.LogTags).Errorf(
			"Failed to look up invitation code for %s", userID,
		)
		return Partnership{}, err
	}
	if invitation.UserID == userID {
		return Partnership{}, ErrSelfInvitation
	}

	accepted, err := scanPartnership(s.db.Pool().QueryRow(
		ctxt,
		fmt.Sprintf(
			`UPDATE partner_relationships
			SET partner_id = $1, status = $2, accepted_at = now(), updated_at = now()
			WHERE id = $3
			RETURNING %s`,
			partnershipColumns,
		),
		userID, PartnershipAccepted, invitation.ID,
	))
	if err != nil {
		log.WithError(err).WithFields(s.LogTags).Errorf(
			"Failed to accept invitation %s for %s", invitation.ID, userID,
		)
		return Partnership{}, err
	}

	s.publishChange(ctxt, ChangeUpdate, &invitation, &accepted)
	log.WithFields(s.LogTags).Infof(
		"Partnership %s established between %s and %s",
		accepted.ID, accepted.UserID, accepted.PartnerID,
	)
	return accepted, nil
}

// CurrentPartnership fetch the accepted partnership involving userID
func (s *partnerStoreImpl) CurrentPartnership(
	ctxt context.Context, userID string,
) (Partnership, error) {
	partnership, err := scanPartnership(s.db.Pool().QueryRow(
		ctxt,
		fmt.Sprintf(
			`SELECT %s FROM partner_relationships
			WHERE (user_id = $1 OR partner_id = $1) AND status = $2`,
			partnershipColumns,
		),
		userID, PartnershipAccepted,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Partnership{}, ErrNoPartnership
		}
		log.WithError(err).WithFields(s.LogTags).Errorf(
			"Failed to fetch partnership of %s", userID,
		)
		return Partnership{}, err
	}
	return partnership, nil
}

// RemovePartner delete the accepted partnership involving userID
func (s *partnerStoreImpl) RemovePartner(ctxt context.Context, userID string) error {
	partnership, err := s.CurrentPartnership(ctxt, userID)
	if err != nil {
		return err
	}
	if _, err := s.db.Pool().Exec(
		ctxt, `DELETE FROM partner_relationships WHERE id = $1`, partnership.ID,
	); err != nil {
		log.WithError(err).WithFields(s.LogTags).Errorf(
			"Failed to remove partnership %s", partnership.ID,
		)
		return err
	}
	s.publishChange(ctxt, ChangeDelete, &partnership, nil)
	log.WithFields(s.LogTags).Infof("Partnership %s removed by %s", partnership.ID, userID)
	return nil
}

// PendingInvitations fetch pending invitations sent by, and visible to, userID
func (s *partnerStoreImpl) PendingInvitations(
	ctxt context.Context, userID string,
) (sent, received []Partnership, err error) {
	rows, err := s.db.Pool().Query(
		ctxt,
		fmt.Sprintf(
			`SELECT %s FROM partner_relationships WHERE status = $1
			ORDER BY created_at`,
			partnershipColumns,
		),
		PartnershipPending,
	)
	if err != nil {
		log.WithError(err).WithFields(s.LogTags).Errorf(
			"Failed to fetch pending invitations for %s", userID,
		)
		return nil, nil, err
	}
	defer rows.Close()

	sent = []Partnership{}
	received = []Partnership{}
	for rows.Next() {
		p, err := scanPartnership(rows)
		if err != nil {
			return nil, nil, err
		}
		if p.UserID == userID {
			sent = append(sent, p)
		} else {
			received = append(received, p)
		}
	}
	return sent, received, rows.Err()
}

// CancelInvitation delete userID's pending invitation
func (s *partnerStoreImpl) CancelInvitation(ctxt context.Context, userID string) error {
	if _, err := s.db.Pool().Exec(
		ctxt,
		`DELETE FROM partner_relationships WHERE user_id = $1 AND status = $2`,
		userID, PartnershipPending,
	); err != nil {
		log.WithError(err).WithFields(s.LogTags).Errorf(
			"Failed to cancel invitation of %s", userID,
		)
		return err
	}
	log.WithFields(s.LogTags).Infof("Pending invitation of %s canceled", userID)
	return nil
}
