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
	"context"
	"time"

	"github.com/alonet/alonet-backend/common"
	"github.com/apex/log"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SQLConnectParams Postgres connection parameter
type SQLConnectParams struct {
	// ConnectURI connect to Postgres with URI
	ConnectURI string `validate:"required,uri"`
	// ConnectTimeout max time to wait for the initial connection
	ConnectTimeout time.Duration
}

// SQLClient Postgres client wrapping a pgx connection pool
type SQLClient struct {
	common.Component
	pool *pgxpool.Pool
}

// Pool fetch the underlying pgx connection pool
func (c SQLClient) Pool() *pgxpool.Pool {
	return c.pool
}

// Ready check whether the Postgres connection is usable
func (c SQLClient) Ready(ctxt context.Context) error {
	return c.pool.Ping(ctxt)
}

// Close close the Postgres client
func (c SQLClient) Close() {
	c.pool.Close()
	log.WithFields(c.LogTags).Infof("Close Postgres client")
}

// GetSQLClient define a new Postgres client
func GetSQLClient(ctxt context.Context, param SQLConnectParams) (SQLClient, error) {
	logTags := log.Fields{
		"module":    "core",
		"component": "postgres-backend",
	}

	pool, err := pgxpool.New(ctxt, param.ConnectURI)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Postgres pool creation failed")
		return SQLClient{}, err
	}

	pingCtxt, cancel := context.WithTimeout(ctxt, param.ConnectTimeout)
	defer cancel()
	if err := pool.Ping(pingCtxt); err != nil {
		log.WithError(err).WithFields(logTags).Error("Postgres connect check failed")
		pool.Close()
		return SQLClient{}, err
	}
	log.WithFields(logTags).Info("Created Postgres client")

	return SQLClient{
		Component: common.Component{LogTags: logTags},
		pool:      pool,
	}, nil
}
