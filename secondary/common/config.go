// Copyright (c) 2014 Couchbase, Inc.
// Licensed under the Apache License, Version 2.0 (the "License"); you may not use this file
// except in compliance with the License. You may obtain a copy of the License at
//   http://www.apache.org/licenses/LICENSE-2.0
// Unless required by applicable law or agreed to in writing, software distributed under the
// License is distributed on an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND,
// either express or implied. See the License for the specific language governing permissions
// and limitations under the License.

package common

import (
	"strings"

	"github.com/spf13/viper"

	"github.com/couchbase/indexactor/secondary/indexactor"
)

// ProcessConfig is the configuration for the whole process: the indexactor
// store/actor settings plus the ambient logging options.
type ProcessConfig struct {
	indexactor.Config `mapstructure:",squash"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
}

// LoadConfig builds a viper instance seeded with the spec defaults, then
// layers an optional config file (configPath, ignored if empty) and
// INDEXACTOR_-prefixed environment variables on top, in that order of
// increasing precedence.
func LoadConfig(configPath string) (ProcessConfig, error) {
	v := viper.New()

	defaults := indexactor.DefaultConfig()
	v.SetDefault("root_path", defaults.RootPath)
	v.SetDefault("meta_map_size", defaults.MetaMapSize)
	v.SetDefault("index_map_size", defaults.IndexMapSize)
	v.SetDefault("read_concurrency", defaults.ReadConcurrency)
	v.SetDefault("write_concurrency", defaults.WriteConcurrency)
	v.SetDefault("channel_capacity", defaults.ChannelCapacity)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return ProcessConfig{}, err
		}
	}

	v.SetEnvPrefix("INDEXACTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg ProcessConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return ProcessConfig{}, err
	}
	return cfg, nil
}
