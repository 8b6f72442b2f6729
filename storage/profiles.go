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
	"errors"
	"time"

	"github.com/alonet/alonet-backend/common"
	"github.com/alonet/alonet-backend/core"
	"github.com/apex/log"
	"github.com/jackc/pgx/v5"
)

// Profile one user profile row, mirrored from the identity provider at
// sign-up and editable afterwards
type Profile struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	FullName  *string   `json:"full_name,omitempty"`
	AvatarURL *string   `json:"avatar_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ProfileUpdate profile update parameters; nil fields are left unchanged
type ProfileUpdate struct {
	FullName  *string
	AvatarURL *string
}

// ErrProfileNotFound no profile row for the requested user
var ErrProfileNotFound = errors.New("profile not found")

// ProfileStore manage user profile rows
type ProfileStore interface {
	// Get fetch one profile
	Get(ctxt context.Context, userID string) (Profile, error)
	// Upsert create or refresh a profile row
	Upsert(ctxt context.Context, userID, email string, fullName *string) (Profile, error)
	// Update change mutable profile fields
	Update(ctxt context.Context, userID string, update ProfileUpdate) (Profile, error)
	// Delete remove a profile row
	Delete(ctxt context.Context, userID string) error
}

// profileStoreImpl implements ProfileStore
type profileStoreImpl struct {
	common.Component
	db core.SQLClient
}

// GetProfileStore define a new ProfileStore
func GetProfileStore(db core.SQLClient) (ProfileStore, error) {
	logTags := log.Fields{
		"module":    "storage",
		"component": "profile-store",
	}
	return &profileStoreImpl{
		Component: common.Component{LogTags: logTags},
		db:        db,
	}, nil
}

const profileColumns = `id, email, full_name, avatar_url, created_at, updated_at`

// scanProfile read one profile row
func scanProfile(row pgx.Row) (Profile, error) {
	var p Profile
	err := row.Scan(&p.ID, &p.Email, &p.FullName, &p.AvatarURL, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

// Get fetch one profile
func (s *profileStoreImpl) Get(ctxt context.Context, userID string) (Profile, error) {
	profile, err := scanProfile(s.db.Pool().QueryRow(
		ctxt, `SELECT `+profileColumns+` FROM profiles WHERE id = $1`, userID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Profile{}, ErrProfileNotFound
		}
		log.WithError(err).WithFields(s.LogTags).Errorf("Failed to fetch profile %s", userID)
		return Profile{}, err
	}
	return profile, nil
}

// Upsert create or refresh a profile row
func (s *profileStoreImpl) Upsert(
	ctxt context.Context, userID, email string, fullName *string,
) (Profile, error) {
	profile, err := scanProfile(s.db.Pool().QueryRow(
		ctxt,
		`INSERT INTO profiles (id, email, full_name, created_at, updated_at)
		VALUES ($1, $2, $3, now(), now())
		ON CONFLICT (id) DO UPDATE
			SET email = EXCLUDED.email,
				full_name = COALESCE(EXCLUDED.full_name, profiles.full_name),
				updated_at = now()
		RETURNING `+profileColumns,
		userID, email, fullName,
	))
	if err != nil {
		log.WithError(err).WithFields(s.LogTags).Errorf("Failed to upsert profile %s", userID)
		return Profile{}, err
	}
	return profile, nil
}

// Update change mutable profile fields
func (s *profileStoreImpl) Update(
	ctxt context.Context, userID string, update ProfileUpdate,
) (Profile, error) {
	profile, err := scanProfile(s.db.Pool().QueryRow(
		ctxt,
		`UPDATE profiles
		SET full_name = COALESCE($1, full_name),
			avatar_url = COALESCE($2, avatar_url),
			updated_at = now()
		WHERE id = $3
		RETURNING `+profileColumns,
		update.FullName, update.AvatarURL, userID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Profile{}, ErrProfileNotFound
		}
		log.WithError(err).WithFields(s.LogTags).Errorf("Failed to update profile %s", userID)
		return Profile{}, err
	}
	return profile, nil
}

// Delete remove a profile row
func (s *profileStoreImpl) Delete(ctxt context.Context, userID string) error {
	result, err := s.db.Pool().Exec(ctxt, `DELETE FROM profiles WHERE id = $1`, userID)
	if err != nil {
		log.WithError(err).WithFields(s.LogTags).Errorf("Failed to delete profile %s", userID)
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrProfileNotFound
	}
	return nil
}
