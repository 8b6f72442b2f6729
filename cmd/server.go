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

package cmd

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/alonet/alonet-backend/apis"
	"github.com/alonet/alonet-backend/common"
	"github.com/alonet/alonet-backend/core"
	"github.com/alonet/alonet-backend/realtime"
	"github.com/alonet/alonet-backend/storage"
	"github.com/apex/log"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// httpAccessLogger io.Writer adapter feeding HTTP access logs into apex
type httpAccessLogger struct {
	logTags log.Fields
}

func (w httpAccessLogger) Write(p []byte) (n int, err error) {
	log.WithFields(w.logTags).Infof("%s", p)
	return len(p), nil
}

// RunServer run the backend API server until the runtime context is canceled
func RunServer(
	runtimeContext context.Context,
	config *common.SystemConfig,
	instance string,
	natsClient core.NatsClient,
	sqlClient core.SQLClient,
	identityClient core.IdentityClient,
) error {
	logTags := log.Fields{
		"module":    "cmd",
		"component": "server",
		"instance":  instance,
	}

	// -------------------------------------------------------------------
	// Storage layer

	changeBus, err := storage.GetNatsChangeBus(natsClient, config.NATS.ChangeSubjectPrefix)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define change-event bus")
		return err
	}
	partnerStore, err := storage.GetPartnerStore(sqlClient, changeBus)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define partner store")
		return err
	}
	momentStore, err := storage.GetMomentStore(sqlClient, changeBus)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define moment store")
		return err
	}
	profileStore, err := storage.GetProfileStore(sqlClient)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define profile store")
		return err
	}

	// -------------------------------------------------------------------
	// Realtime layer

	directory, err := realtime.GetConnectionDirectory()
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define connection directory")
		return err
	}
	resolver, err := realtime.GetPartnerResolver(partnerStore)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define partner resolver")
		return err
	}
	subscriptionMgmt, err := realtime.GetSubscriptionManager(changeBus, resolver)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define subscription manager")
		return err
	}
	router, err := realtime.GetFanoutRouter(directory, subscriptionMgmt, resolver, identityClient)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define fan-out router")
		return err
	}

	// -------------------------------------------------------------------
	// REST handlers

	httpConfig := &config.Server.HTTPSetting

	authMiddleware, err := apis.GetAPIRestAuthMiddleware(identityClient, httpConfig)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define auth middleware")
		return err
	}
	authHandler, err := apis.GetAPIRestAuthHandler(identityClient, profileStore, httpConfig)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define auth handler")
		return err
	}
	momentHandler, err := apis.GetAPIRestMomentHandler(momentStore, httpConfig)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define moment handler")
		return err
	}
	partnerHandler, err := apis.GetAPIRestPartnerHandler(partnerStore, profileStore, httpConfig)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define partner handler")
		return err
	}
	userHandler, err := apis.GetAPIRestUserHandler(profileStore, httpConfig)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define user handler")
		return err
	}
	realtimeHandler, err := apis.GetAPIRestRealtimeHandler(directory, subscriptionMgmt, httpConfig)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define realtime handler")
		return err
	}
	socketHandler, err := apis.GetAPIRestRealtimeSocketHandler(router, httpConfig)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define realtime socket handler")
		return err
	}
	healthHandler, err := apis.GetAPIRestHealthHandler([]apis.ReadinessProbe{
		{Name: "postgres", Check: sqlClient.Ready},
		{Name: "nats", Check: func(ctxt context.Context) error {
			if !natsClient.Ready() {
				return fmt.Errorf("nats connection is not up")
			}
			return nil
		}},
	}, httpConfig)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define health handler")
		return err
	}

	// -------------------------------------------------------------------
	// Start the HTTP server

	httpRouter := mux.NewRouter()
	mainRouter := apis.RegisterPathPrefix(
		httpRouter, config.Server.Endpoints.PathPrefix, nil,
	)

	// Auth routes
	authRouter := apis.RegisterPathPrefix(mainRouter, "/v1/auth", nil)
	_ = apis.RegisterPathPrefix(authRouter, "/signup", apis.MethodHandlers{
		http.MethodPost: authHandler.SignUpHandler(),
	})
	_ = apis.RegisterPathPrefix(authRouter, "/signin", apis.MethodHandlers{
		http.MethodPost: authHandler.SignInHandler(),
	})
	_ = apis.RegisterPathPrefix(authRouter, "/refresh", apis.MethodHandlers{
		http.MethodPost: authHandler.RefreshHandler(),
	})
	_ = apis.RegisterPathPrefix(authRouter, "/signout", apis.MethodHandlers{
		http.MethodPost: authHandler.SignOutHandler(),
	})

	// Moment routes
	momentRouter := apis.RegisterPathPrefix(mainRouter, "/v1/moments", apis.MethodHandlers{
		http.MethodGet:  authMiddleware.RequireUser(momentHandler.ListHandler()),
		http.MethodPost: authMiddleware.RequireUser(momentHandler.CreateHandler()),
	})
	_ = apis.RegisterPathPrefix(momentRouter, "/stats", apis.MethodHandlers{
		http.MethodGet: authMiddleware.RequireUser(momentHandler.StatsHandler()),
	})
	perMomentRouter := apis.RegisterPathPrefix(momentRouter, "/{momentID}", apis.MethodHandlers{
		http.MethodPut:    authMiddleware.RequireUser(momentHandler.UpdateHandler()),
		http.MethodDelete: authMiddleware.RequireUser(momentHandler.DeleteHandler()),
	})
	_ = apis.RegisterPathPrefix(perMomentRouter, "/reaction", apis.MethodHandlers{
		http.MethodPost: authMiddleware.RequireUser(momentHandler.ReactHandler()),
	})

	// Partner routes
	partnerRouter := apis.RegisterPathPrefix(mainRouter, "/v1/partners", nil)
	_ = apis.RegisterPathPrefix(partnerRouter, "/invite", apis.MethodHandlers{
		http.MethodPost: authMiddleware.RequireUser(partnerHandler.InviteHandler()),
	})
	_ = apis.RegisterPathPrefix(partnerRouter, "/accept", apis.MethodHandlers{
		http.MethodPost: authMiddleware.RequireUser(partnerHandler.AcceptHandler()),
	})
	_ = apis.RegisterPathPrefix(partnerRouter, "/current", apis.MethodHandlers{
		http.MethodGet:    authMiddleware.RequireUser(partnerHandler.CurrentHandler()),
		http.MethodDelete: authMiddleware.RequireUser(partnerHandler.RemoveHandler()),
	})
	_ = apis.RegisterPathPrefix(partnerRouter, "/invitations", apis.MethodHandlers{
		http.MethodGet:    authMiddleware.RequireUser(partnerHandler.InvitationsHandler()),
		http.MethodDelete: authMiddleware.RequireUser(partnerHandler.CancelInvitationHandler()),
	})

	// User routes
	userRouter := apis.RegisterPathPrefix(mainRouter, "/v1/users", nil)
	_ = apis.RegisterPathPrefix(userRouter, "/profile", apis.MethodHandlers{
		http.MethodGet:    authMiddleware.RequireUser(userHandler.GetProfileHandler()),
		http.MethodPut:    authMiddleware.RequireUser(userHandler.UpdateProfileHandler()),
		http.MethodDelete: authMiddleware.RequireUser(userHandler.DeleteProfileHandler()),
	})

	// Realtime routes
	realtimeRouter := apis.RegisterPathPrefix(mainRouter, "/v1/realtime", nil)
	_ = apis.RegisterPathPrefix(realtimeRouter, "/status", apis.MethodHandlers{
		http.MethodGet: authMiddleware.RequireUser(realtimeHandler.StatusHandler()),
	})
	// The socket authenticates in-band over the live protocol
	_ = apis.RegisterPathPrefix(realtimeRouter, "/ws", apis.MethodHandlers{
		http.MethodGet: socketHandler.ConnectHandler(),
	})

	// Health check
	_ = apis.RegisterPathPrefix(mainRouter, "/v1/alive", apis.MethodHandlers{
		http.MethodGet: healthHandler.AliveHandler(),
	})
	_ = apis.RegisterPathPrefix(mainRouter, "/v1/ready", apis.MethodHandlers{
		http.MethodGet: healthHandler.ReadyHandler(),
	})

	// Add logging
	accessLogs := httpAccessLogger{logTags: logTags}
	httpRouter.Use(func(next http.Handler) http.Handler {
		return handlers.CombinedLoggingHandler(accessLogs, next)
	})

	serverConfig := config.Server.HTTPSetting.Server
	serverListen := fmt.Sprintf("%s:%d", serverConfig.ListenOn, serverConfig.Port)
	httpSrv := &http.Server{
		Addr:         serverListen,
		WriteTimeout: time.Second * time.Duration(serverConfig.WriteTimeout),
		ReadTimeout:  time.Second * time.Duration(serverConfig.ReadTimeout),
		IdleTimeout:  time.Second * time.Duration(serverConfig.IdleTimeout),
		Handler:      h2c.NewHandler(httpRouter, &http2.Server{}),
	}

	// Start the server
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("HTTP Server Failure")
		}
	}()

	log.WithFields(logTags).Infof("Started HTTP server on http://%s", serverListen)

	// ============================================================================

	<-runtimeContext.Done()

	// Stop the HTTP server
	{
		ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
		defer cancel()
		if err := httpSrv.Shutdown(ctx); err != nil {
			log.WithError(err).Error("Failure during HTTP shutdown")
		}
	}

	return nil
}
