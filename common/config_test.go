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

import (
	"bytes"
	"testing"

	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func TestViperConfigParsing(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	validate := validator.New()

	// Case 0: parse config with no defaults in place
	{
		var cfg SystemConfig
		assert.Nil(viper.Unmarshal(&cfg))
		assert.NotNil(validate.Struct(&cfg))
	}

	// Case 1: load the configs
	{
		var cfg SystemConfig
		InstallDefaultConfigValues()
		assert.Nil(viper.Unmarshal(&cfg))
		assert.Nil(validate.Struct(&cfg))
		assert.Equal("alonet.changes", cfg.NATS.ChangeSubjectPrefix)
		assert.Equal(uint16(3000), cfg.Server.HTTPSetting.Server.Port)
	}

	// Case 2: invalid config
	{
		config := []byte(`---
server:
  api_server:
    server_config:
      listen_on: 1243`)
		viper.SetConfigType("yaml")
		assert.Nil(viper.ReadConfig(bytes.NewBuffer(config)))
		var cfg SystemConfig
		assert.Nil(viper.Unmarshal(&cfg))
		assert.NotNil(validate.Struct(&cfg))
	}

	// Case 3: invalid config
	{
		config := []byte(`---
database:
  connect_timeout_sec: -10`)
		viper.SetConfigType("yaml")
		assert.Nil(viper.ReadConfig(bytes.NewBuffer(config)))
		var cfg SystemConfig
		assert.Nil(viper.Unmarshal(&cfg))
		assert.NotNil(validate.Struct(&cfg))
	}

	// Case 4: valid config overriding defaults
	{
		config := []byte(`---
nats:
  change_subject_prefix: unit-test.changes
identity:
  jwt_secret: unit-test-secret`)
		viper.SetConfigType("yaml")
		assert.Nil(viper.ReadConfig(bytes.NewBuffer(config)))
		var cfg SystemConfig
		assert.Nil(viper.Unmarshal(&cfg))
		assert.Nil(validate.Struct(&cfg))
		assert.Equal("unit-test.changes", cfg.NATS.ChangeSubjectPrefix)
		assert.Equal("unit-test-secret", cfg.Identity.JWTSecret)
	}
}
