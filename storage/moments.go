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
	"time"

	"github.com/alonet/alonet-backend/common"
	"github.com/alonet/alonet-backend/core"
	"github.com/apex/log"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Moment one recorded moment
type Moment struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	Event      string     `json:"event"`
	Note       *string    `json:"note,omitempty"`
	MomentTime time.Time  `json:"moment_time"`
	Timezone   string     `json:"timezone"`
	Reaction   *string    `json:"reaction,omitempty"`
	ReactedAt  *time.Time `json:"reacted_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// NewMoment parameters for creating a moment
type NewMoment struct {
	UserID     string    `validate:"required"`
	Event      string    `validate:"required"`
	Note       *string   `validate:"omitempty"`
	MomentTime time.Time `validate:"required"`
	Timezone   string    `validate:"required"`
}

// MomentUpdate parameters for updating a moment; nil fields are left unchanged
type MomentUpdate struct {
	Event      *string
	Note       *string
	MomentTime *time.Time
	Timezone   *string
}

// MomentQuery list filter parameters
type MomentQuery struct {
	// StartTime earliest moment_time to include
	StartTime *time.Time
	// EndTime latest moment_time to include
	EndTime *time.Time
	// Limit max number of rows, 0 means unlimited
	Limit int
}

// MomentStats moment counts over one period
type MomentStats struct {
	Period              string    `json:"period"`
	StartDate           time.Time `json:"start_date"`
	EndDate             time.Time `json:"end_date"`
	UserMomentsCount    int       `json:"user_moments_count"`
	PartnerMomentsCount int       `json:"partner_moments_count"`
	TotalMoments        int       `json:"total_moments"`
	ReactedMoments      int       `json:"reacted_moments"`
}

// Moment operation errors
var (
	// ErrMomentNotFound no matching moment visible to the caller
	ErrMomentNotFound = errors.New("moment not found or unauthorized")
	// ErrOwnMomentReaction a user tried to react to their own moment
	ErrOwnMomentReaction = errors.New("cannot react to your own moment")
)

// MomentStore manage moment records
type MomentStore interface {
	// Create insert a new moment
	Create(ctxt context.Context, newMoment NewMoment) (Moment, error)
	// List fetch moments visible to userID (their own plus their accepted
	// partner's), in moment_time order
	List(ctxt context.Context, userID string, query MomentQuery) ([]Moment, error)
	// Update change a moment owned by userID
	Update(ctxt context.Context, momentID, userID string, update MomentUpdate) (Moment, error)
	// Delete remove a moment owned by userID
	Delete(ctxt context.Context, momentID, userID string) error
	// React set or clear the reaction on a partner's moment
	React(ctxt context.Context, momentID, reactorID string, reaction *string) (Moment, error)
	// Stats compute moment counts for userID between two instants
	Stats(ctxt context.Context, userID string, period string, start, end time.Time) (MomentStats, error)
}

// momentStoreImpl implements MomentStore
type momentStoreImpl struct {
	common.Component
	db  core.SQLClient
	bus ChangeBus
}

// GetMomentStore define a new MomentStore
func GetMomentStore(db core.SQLClient, bus ChangeBus) (MomentStore, error) {
	logTags := log.Fields{
		"module":    "storage",
		"component": "moment-store",
	}
	return &momentStoreImpl{
		Component: common.Component{LogTags: logTags},
		db:        db,
		bus:       bus,
	}, nil
}

const momentColumns = `id, user_id, event, note, moment_time, timezone,
	reaction, reacted_at, created_at, updated_at`

// visibleMomentPredicate limits rows to the user's own moments and the moments
// of their accepted partner
const visibleMomentPredicate = `(user_id = $1 OR user_id IN (
	SELECT CASE WHEN user_id = $1 THEN partner_id ELSE user_id END
	FROM partner_relationships
	WHERE (user_id = $1 OR partner_id = $1) AND status = 'accepted'))`

// scanMoment read one moment row
func scanMoment(row pgx.Row) (Moment, error) {
	var m Moment
	err := row.Scan(
		&m.ID, &m.UserID, &m.Event, &m.Note, &m.MomentTime, &m.Timezone,
		&m.Reaction, &m.ReactedAt, &m.CreatedAt, &m.UpdatedAt,
	)
	return m, err
}

// publishChange publish one moment change event onto the owner's feed.
// Failures are logged and swallowed; the row mutation already committed.
func (s *momentStoreImpl) publishChange(
	ctxt context.Context, changeType ChangeType, before, after *Moment,
) {
	image := after
	if image == nil {
		image = before
	}
	if image == nil {
		return
	}
	var beforeRaw, afterRaw json.RawMessage
	if before != nil {
		beforeRaw, _ = json.Marshal(before)
	}
	if after != nil {
		afterRaw, _ = json.Marshal(after)
	}
	event := ChangeEvent{
		Topic:  TopicMoments,
		Type:   changeType,
		UserID: image.UserID,
		Before: beforeRaw,
		After:  afterRaw,
	}
	if err := s.bus.Publish(ctxt, event); err != nil {
		log.WithError(err).WithFields(s.LogTags).Errorf(
			"Failed to publish moment %s event for %s", changeType, image.UserID,
		)
	}
}

// Create insert a new moment
func (s *momentStoreImpl) Create(ctxt context.Context, newMoment NewMoment) (Moment, error) {
	created, err := scanMoment(s.db.Pool().QueryRow(
		ctxt,
		fmt.Sprintf(
			`INSERT INTO moments
				(id, user_id, event, note, moment_time, timezone, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, now(), now())
			RETURNING %s`,
			momentColumns,
		),
		uuid.NewString(), newMoment.UserID, newMoment.Event, newMoment.Note,
		newMoment.MomentTime, newMoment.Timezone,
	))
	if err != nil {
		log.WithError(err).WithFields(s.LogTags).Errorf(
			"Failed to create moment for %s", newMoment.UserID,
		)
		return Moment{}, err
	}
	s.publishChange(ctxt, ChangeCreate, nil, &created)
	return created, nil
}

// List fetch moments visible to userID in moment_time order
func (s *momentStoreImpl) List(
	ctxt context.Context, userID string, query MomentQuery,
) ([]Moment, error) {
	stmt := fmt.Sprintf(
		`SELECT %s FROM moments WHERE %s`, momentColumns, visibleMomentPredicate,
	)
	args := []interface{}{userID}
	if query.StartTime != nil {
		args = append(args, *query.StartTime)
		stmt += fmt.Sprintf(" AND moment_time >= $%d", len(args))
	}
	if query.EndTime != nil {
		args = append(args, *query.EndTime)
		stmt += fmt.Sprintf(" AND moment_time <= $%d", len(args))
	}
	stmt += " ORDER BY moment_time"
	if query.Limit > 0 {
		args = append(args, query.Limit)
		stmt += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.Pool().Query(ctxt, stmt, args...)
	if err != nil {
		log.WithError(err).WithFields(s.LogTags).Errorf(
			"Failed to fetch moments for %s", userID,
		)
		return nil, err
	}
	defer rows.Close()

	moments := []Moment{}
	for rows.Next() {
		m, err := scanMoment(rows)
		if err != nil {
			return nil, err
		}
		moments = append(moments, m)
	}
	return moments, rows.Err()
}

// Update change a moment owned by userID
func (s *momentStoreImpl) Update(
	ctxt context.Context, momentID, userID string, update MomentUpdate,
) (Moment, error) {
	before, err := scanMoment(s.db.Pool().QueryRow(
		ctxt,
		fmt.Sprintf(
			`SELECT %s FROM moments WHERE id = $1 AND user_id = $2`, momentColumns,
		),
		momentID, userID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Moment{}, ErrMomentNotFound
		}
		log.WithError(err).WithFields(s.LogTags).Errorf("Failed to fetch moment %s", momentID)
		return Moment{}, err
	}

	after, err := scanMoment(s.db.Pool().QueryRow(
		ctxt,
		fmt.Sprintf(
			`UPDATE moments
			SET event = COALESCE($1, event),
				note = COALESCE($2, note),
				moment_time = COALESCE($3, moment_time),
				timezone = COALESCE($4, timezone),
				updated_at = now()
			WHERE id = $5 AND user_id = $6
			RETURNING %s`,
			momentColumns,
		),
		update.Event, update.Note, update.MomentTime, update.Timezone,
		momentID, userID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Moment{}, ErrMomentNotFound
		}
		log.WithError(err).WithFields(s.LogTags).Errorf("Failed to update moment %s", momentID)
		return Moment{}, err
	}

	s.publishChange(ctxt, ChangeUpdate, &before, &after)
	return after, nil
}

// Delete remove a moment owned by userID
func (s *momentStoreImpl) Delete(ctxt context.Context, momentID, userID string) error {
	before, err := scanMoment(s.db.Pool().QueryRow(
		ctxt,
		fmt.Sprintf(
			`DELETE FROM moments WHERE id = $1 AND user_id = $2 RETURNING %s`,
			momentColumns,
		),
		momentID, userID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrMomentNotFound
		}
		log.WithError(err).WithFields(s.LogTags).Errorf("Failed to delete moment %s", momentID)
		return err
	}
	s.publishChange(ctxt, ChangeDelete, &before, nil)
	return nil
}

// React set or clear the reaction on a partner's moment
func (s *momentStoreImpl) React(
	ctxt context.Context, momentID, reactorID string, reaction *string,
) (Moment, error) {
	before, err := scanMoment(s.db.Pool().QueryRow(
		ctxt,
		fmt.Sprintf(`SELECT %s FROM moments WHERE id = $1`, momentColumns),
		momentID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Moment{}, ErrMomentNotFound
		}
		log.WithError(err).WithFields(s.LogTags).Errorf("Failed to fetch moment %s", momentID)
		return Moment{}, err
	}
	if before.UserID == reactorID {
		return Moment{}, ErrOwnMomentReaction
	}

	var reactedAt *time.Time
	if reaction != nil {
		now := time.Now().UTC()
		reactedAt = &now
	}
	after, err := scanMoment(s.db.Pool().QueryRow(
		ctxt,
		fmt.Sprintf(
			`UPDATE moments SET reaction = $1, reacted_at = $2, updated_at = now()
			WHERE id = $3 RETURNING %s`,
			momentColumns,
		),
		reaction, reactedAt, momentID,
	))
	if err != nil {
		log.WithError(err).WithFields(s.LogTags).Errorf(
			"Failed to update reaction on moment %s", momentID,
		)
		return Moment{}, err
	}

	s.publishChange(ctxt, ChangeUpdate, &before, &after)
	return after, nil
}

// Stats compute moment counts for userID between two instants
func (s *momentStoreImpl) Stats(
	ctxt context.Context, userID string, period string, start, end time.Time,
) (MomentStats, error) {
	moments, err := s.List(ctxt, userID, MomentQuery{StartTime: &start, EndTime: &end})
	if err != nil {
		return MomentStats{}, err
	}

	stats := MomentStats{
		Period:    period,
		StartDate: start,
		EndDate:   end,
	}
	for _, m := range moments {
		stats.TotalMoments++
		if m.UserID == userID {
			stats.UserMomentsCount++
			if m.Reaction != nil {
				stats.ReactedMoments++
			}
		} else {
			stats.PartnerMomentsCount++
		}
	}
	return stats, nil
}
