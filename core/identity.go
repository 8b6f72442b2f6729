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

package core

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/alonet/alonet-backend/common"
	"github.com/apex/log"
	"github.com/golang-jwt/jwt/v5"
)

// AuthenticatedUser identity resolved from a verified access token
type AuthenticatedUser struct {
	// ID is the identity provider's user ID
	ID string `json:"id" validate:"required"`
	// Email is the user's email address
	Email string `json:"email,omitempty"`
}

// UserSession a token pair issued by the identity provider
type UserSession struct {
	AccessToken  string            `json:"access_token"`
	RefreshToken string            `json:"refresh_token,omitempty"`
	TokenType    string            `json:"token_type,omitempty"`
	ExpiresIn    int               `json:"expires_in,omitempty"`
	User         AuthenticatedUser `json:"user"`
}

// TokenVerifier verifies an access token and resolves the identity behind it
type TokenVerifier interface {
	VerifyToken(ctxt context.Context, token string) (AuthenticatedUser, error)
}

// IdentityClient client for the hosted identity provider. Token signatures are
// checked locally against the provider's shared JWT secret; credential exchange
// (sign-up, sign-in, refresh, sign-out) is proxied to the provider's REST API.
type IdentityClient interface {
	TokenVerifier
	SignUp(ctxt context.Context, email, password, fullName string) (UserSession, error)
	SignIn(ctxt context.Context, email, password string) (UserSession, error)
	RefreshSession(ctxt context.Context, refreshToken string) (UserSession, error)
	SignOut(ctxt context.Context, accessToken string) error
}

// IdentityConnectParams identity provider connection parameter
type IdentityConnectParams struct {
	// BaseURL is the identity provider REST API base URL
	BaseURL string `validate:"required,uri"`
	// JWTSecret is the shared secret access tokens are signed with
	JWTSecret string `validate:"required"`
	// RequestTimeout max duration of one identity provider call
	RequestTimeout time.Duration
}

// identityClientImpl implements IdentityClient
type identityClientImpl struct {
	common.Component
	baseURL string
	secret  []byte
	client  *http.Client
}

// GetIdentityClient define a new identity provider client
func GetIdentityClient(param IdentityConnectParams) (IdentityClient, error) {
	logTags := log.Fields{
		"module":    "core",
		"component": "identity-client",
		"instance":  param.BaseURL,
	}
	if _, err := url.Parse(param.BaseURL); err != nil {
		log.WithError(err).WithFields(logTags).Error("Invalid identity provider URL")
		return nil, err
	}
	return &identityClientImpl{
		Component: common.Component{LogTags: logTags},
		baseURL:   param.BaseURL,
		secret:    []byte(param.JWTSecret),
		client:    &http.Client{Timeout: param.RequestTimeout},
	}, nil
}

// identityTokenClaims access token claims issued by the provider
type identityTokenClaims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// VerifyToken verify an access token signature and expiry, and resolve
// the identity carried in its claims
func (c *identityClientImpl) VerifyToken(
	ctxt context.Context, token string,
) (AuthenticatedUser, error) {
	claims := identityTokenClaims{}
	parsed, err := jwt.ParseWithClaims(
		token, &claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected token signing method %s", t.Method.Alg())
			}
			return c.secret, nil
		},
	)
	if err != nil {
		log.WithError(err).WithFields(c.LogTags).Debug("Token verification failed")
		return AuthenticatedUser{}, err
	}
	if !parsed.Valid || claims.Subject == "" {
		err := fmt.Errorf("token carries no subject")
		log.WithError(err).WithFields(c.LogTags).Debug("Token verification failed")
		return AuthenticatedUser{}, err
	}
	return AuthenticatedUser{ID: claims.Subject, Email: claims.Email}, nil
}

// identityErrorResponse error payload returned by the provider
type identityErrorResponse struct {
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (r identityErrorResponse) text() string {
	if r.Message != "" {
		return r.Message
	}
	return r.Error
}

// call perform one identity provider REST call
func (c *identityClientImpl) call(
	ctxt context.Context, method, path, bearer string, payload, result interface{},
) error {
	var body io.Reader
	if payload != nil {
		serialized, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(serialized)
	}
	req, err := http.NewRequestWithContext(ctxt, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		log.WithError(err).WithFields(c.LogTags).Errorf(
			"Identity provider call %s %s failed", method, path,
		)
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		var detail identityErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&detail)
		err := fmt.Errorf(
			"identity provider returned %d: %s", resp.StatusCode, detail.text(),
		)
		log.WithError(err).WithFields(c.LogTags).Debugf(
			"Identity provider call %s %s rejected", method, path,
		)
		return err
	}
	if result != nil {
		return json.NewDecoder(resp.Body).Decode(result)
	}
	return nil
}

// SignUp register a new user with the identity provider
func (c *identityClientImpl) SignUp(
	ctxt context.Context, email, password, fullName string,
) (UserSession, error) {
	request := map[string]interface{}{
		"email":    email,
		"password": password,
		"data":     map[string]string{"full_name": fullName},
	}
	var session UserSession
	if err := c.call(ctxt, http.MethodPost, "/signup", "", request, &session); err != nil {
		return UserSession{}, err
	}
	return session, nil
}

// SignIn exchange email / password credentials for a session
func (c *identityClientImpl) SignIn(
	ctxt context.Context, email, password string,
) (UserSession, error) {
	request := map[string]string{"email": email, "password": password}
	var session UserSession
	err := c.call(
		ctxt, http.MethodPost, "/token?grant_type=password", "", request, &session,
	)
	if err != nil {
		return UserSession{}, err
	}
	return session, nil
}

// RefreshSession exchange a refresh token for a new session
func (c *identityClientImpl) RefreshSession(
	ctxt context.Context, refreshToken string,
) (UserSession, error) {
	request := map[string]string{"refresh_token": refreshToken}
	var session UserSession
	err := c.call(
		ctxt, http.MethodPost, "/token?grant_type=refresh_token", "", request, &session,
	)
	if err != nil {
		return UserSession{}, err
	}
	return session, nil
}

// SignOut revoke the session behind an access token
func (c *identityClientImpl) SignOut(ctxt context.Context, accessToken string) error {
	return c.call(ctxt, http.MethodPost, "/logout", accessToken, nil, nil)
}
