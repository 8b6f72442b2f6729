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

package common

import "github.com/spf13/viper"

// ===============================================================================
// NATS Related Config

// NATSReconnectConfig defines reconnect parameters
type NATSReconnectConfig struct {
	// MaxAttempts sets the max number of reconnect attempts (-1 is unlimited)
	MaxAttempts int `mapstructure:"max_attempts" json:"max_attempts" validate:"gte=-1"`
	// WaitInterval is the duration between reconnect attempts in seconds
	WaitInterval int `mapstructure:"wait_interval_sec" json:"wait_interval_sec" validate:"gte=1"`
}

// NATSConfig defines parameters for connecting to the NATS change-event bus
type NATSConfig struct {
	// ServerURI is the NATS connection URI
	ServerURI string `mapstructure:"server_uri" json:"server_uri" validate:"required,uri"`
	// ConnectTimeout is the max duration for connecting to NATS server in seconds
	ConnectTimeout int `mapstructure:"connect_timeout_sec" json:"connect_timeout_sec" validate:"gte=1"`
	// ChangeSubjectPrefix is the subject prefix row-change events are published under
	ChangeSubjectPrefix string `mapstructure:"change_subject_prefix" json:"change_subject_prefix" validate:"required"`
	// Reconnect defines reconnect parameters
	Reconnect NATSReconnectConfig `mapstructure:"reconnect" json:"reconnect" validate:"required,dive"`
}

// ===============================================================================
// Postgres Related Config

// DatabaseConfig defines parameters for connecting to the Postgres store
type DatabaseConfig struct {
	// URI is the Postgres connection URI
	URI string `mapstructure:"connect_uri" json:"connect_uri" validate:"required,uri"`
	// ConnectTimeout is the max duration for connecting to Postgres in seconds
	ConnectTimeout int `mapstructure:"connect_timeout_sec" json:"connect_timeout_sec" validate:"gte=1"`
}

// ===============================================================================
// Identity Provider Related Config

// IdentityConfig defines parameters for working with the hosted identity provider
type IdentityConfig struct {
	// BaseURL is the identity provider REST API base URL
	BaseURL string `mapstructure:"base_url" json:"base_url" validate:"required,uri"`
	// JWTSecret is the shared secret access tokens are signed with
	JWTSecret string `mapstructure:"jwt_secret" json:"jwt_secret" validate:"required"`
	// RequestTimeout is the max duration of one identity provider call in seconds
	RequestTimeout int `mapstructure:"request_timeout_sec" json:"request_timeout_sec" validate:"gte=1"`
}

// ===============================================================================
// HTTP Related Config

// HTTPServerConfig defines the HTTP server parameters
type HTTPServerConfig struct {
	// ListenOn is the interface the HTTP server will listen on
	ListenOn string `mapstructure:"listen_on" json:"listen_on" validate:"required,ip"`
	// Port is the port the HTTP server will listen on
	Port uint16 `mapstructure:"listen_port" json:"listen_port" validate:"required,gt=0,lt=65536"`
	// ReadTimeout is the maximum duration for reading the entire
	// request, including the body in seconds. A zero or negative
	// value means there will be no timeout.
	ReadTimeout int `mapstructure:"read_timeout_sec" json:"read_timeout_sec" validate:"gte=0"`
	// WriteTimeout is the maximum duration before timing out
	// writes of the response in seconds. A zero or negative value
	// means there will be no timeout.
	WriteTimeout int `mapstructure:"write_timeout_sec" json:"write_timeout_sec" validate:"gte=0"`
	// IdleTimeout is the maximum amount of time to wait for the
	// next request when keep-alives are enabled in seconds. If
	// IdleTimeout is zero, the value of ReadTimeout is used. If
	// both are zero, there is no timeout.
	IdleTimeout int `mapstructure:"idle_timeout_sec" json:"idle_timeout_sec" validate:"gte=0"`
}

// HTTPRequestLogging defines HTTP request logging parameters
type HTTPRequestLogging struct {
	// RequestIDHeader is the HTTP header containing the API request ID
	RequestIDHeader string `mapstructure:"request_id_header" json:"request_id_header"`
	// DoNotLogHeaders is the list of headers to not include in logging metadata
	DoNotLogHeaders []string `mapstructure:"do_not_log_headers" json:"do_not_log_headers"`
}

// HTTPConfig defines HTTP API / server parameters
type HTTPConfig struct {
	// Server defines HTTP server parameters
	Server HTTPServerConfig `mapstructure:"server_config" json:"server_config" validate:"required,dive"`
	// Logging defines operation logging parameters
	Logging HTTPRequestLogging `mapstructure:"logging_config" json:"logging_config" validate:"required,dive"`
}

// ===============================================================================
// API Server Related Config

// APIEndpointConfig defines API endpoint config
type APIEndpointConfig struct {
	// PathPrefix is the end-point path prefix for the APIs
	PathPrefix string `mapstructure:"path_prefix" json:"path_prefix" validate:"required"`
}

// APIServerConfig defines configuration for the backend API server
type APIServerConfig struct {
	// HTTPSetting is the HTTP API / server parameters for the API server
	HTTPSetting HTTPConfig `mapstructure:"api_server" json:"api_server" validate:"required,dive"`
	// Endpoints is the API endpoint config parameters for the API server
	Endpoints APIEndpointConfig `mapstructure:"endpoint_config" json:"endpoint_config" validate:"required,dive"`
}

// ===============================================================================
// Complete Config

// SystemConfig defines the complete system config for the backend
type SystemConfig struct {
	// NATS are the change-event bus related config parameters
	NATS NATSConfig `mapstructure:"nats" json:"nats" validate:"required,dive"`
	// Database are the Postgres related config parameters
	Database DatabaseConfig `mapstructure:"database" json:"database" validate:"required,dive"`
	// Identity are the identity provider related config parameters
	Identity IdentityConfig `mapstructure:"identity" json:"identity" validate:"required,dive"`
	// Server are the backend API server configs
	Server APIServerConfig `mapstructure:"server" json:"server" validate:"required,dive"`
}

// ===============================================================================

// InstallDefaultConfigValues installs default config parameters in viper
func InstallDefaultConfigValues() {
	// Default NATS settings
	viper.SetDefault("nats.server_uri", "nats://127.0.0.1:4222")
	viper.SetDefault("nats.connect_timeout_sec", 30)
	viper.SetDefault("nats.change_subject_prefix", "alonet.changes")
	viper.SetDefault("nats.reconnect.max_attempts", -1)
	viper.SetDefault("nats.reconnect.wait_interval_sec", 15)

	// Default Postgres settings
	viper.SetDefault("database.connect_uri", "postgres://postgres@127.0.0.1:5432/alonet")
	viper.SetDefault("database.connect_timeout_sec", 30)

	// Default identity provider settings
	viper.SetDefault("identity.base_url", "http://127.0.0.1:9999")
	viper.SetDefault("identity.jwt_secret", "default-secret-change-me")
	viper.SetDefault("identity.request_timeout_sec", 15)

	// Default API server settings
	viper.SetDefault("server.endpoint_config.path_prefix", "/")
	viper.SetDefault("server.api_server.server_config.listen_on", "0.0.0.0")
	viper.SetDefault("server.api_server.server_config.listen_port", 3000)
	viper.SetDefault("server.api_server.server_config.read_timeout_sec", 60)
	viper.SetDefault("server.api_server.server_config.write_timeout_sec", 60)
	viper.SetDefault("server.api_server.server_config.idle_timeout_sec", 600)
	viper.SetDefault(
		"server.api_server.logging_config.request_id_header", "Alonet-Request-ID",
	)
	viper.SetDefault(
		"server.api_server.logging_config.do_not_log_headers", []string{
			"WWW-Authenticate", "Authorization", "Proxy-Authenticate", "Proxy-Authorization",
		},
	)
}
