// Copyright (c) 2014 Couchbase, Inc.
// Licensed under the Apache License, Version 2.0 (the "License"); you may not use this file
// except in compliance with the License. You may obtain a copy of the License at
//   http://www.apache.org/licenses/LICENSE-2.0
// Unless required by applicable law or agreed to in writing, software distributed under the
// License is distributed on an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND,
// either express or implied. See the License for the specific language governing permissions
// and limitations under the License.

package indexactor

import "fmt"

// Config is the typed configuration for a Store and the Actor built on top
// of it. It is populated by secondary/common's viper-backed loader; the
// defaults here are the ones the distilled spec fixes.
type Config struct {
	RootPath         string `mapstructure:"root_path"`
	MetaMapSize      int64  `mapstructure:"meta_map_size"`
	IndexMapSize     int64  `mapstructure:"index_map_size"`
	ReadConcurrency  int    `mapstructure:"read_concurrency"`
	WriteConcurrency int    `mapstructure:"write_concurrency"`
	ChannelCapacity  int    `mapstructure:"channel_capacity"`
	IndexerOpts      map[string]interface{} `mapstructure:"indexer_opts"`
}

// DefaultConfig returns the spec-mandated defaults; RootPath is left empty
// and must be supplied by the caller.
func DefaultConfig() Config {
	return Config{
		MetaMapSize:      1 << 30,       // 1 GiB
		IndexMapSize:     4096 * 100000, // ~400 MB
		ReadConcurrency:  10,
		WriteConcurrency: 1,
		ChannelCapacity:  100,
	}
}

// Validate rejects a Config that cannot safely construct a Store.
func (c Config) Validate() error {
	if c.RootPath == "" {
		return fmt.Errorf("indexactor: root_path must not be empty")
	}
	if c.MetaMapSize <= 0 {
		return fmt.Errorf("indexactor: meta_map_size must be positive")
	}
	if c.IndexMapSize <= 0 {
		return fmt.Errorf("indexactor: index_map_size must be positive")
	}
	if c.ReadConcurrency <= 0 {
		return fmt.Errorf("indexactor: read_concurrency must be positive")
	}
	if c.WriteConcurrency <= 0 {
		return fmt.Errorf("indexactor: write_concurrency must be positive")
	}
	if c.ChannelCapacity <= 0 {
		return fmt.Errorf("indexactor: channel_capacity must be positive")
	}
	return nil
}
