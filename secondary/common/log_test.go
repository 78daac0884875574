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
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestNewLogger_ParsesValidLevel(t *testing.T) {
	log := NewLogger("debug", "text")
	assert.Equal(t, logrus.DebugLevel, log.GetLevel())
}

func TestNewLogger_FallsBackToInfoOnUnparseableLevel(t *testing.T) {
	log := NewLogger("not-a-level", "text")
	assert.Equal(t, logrus.InfoLevel, log.GetLevel())
}

func TestNewLogger_SelectsJSONFormatter(t *testing.T) {
	log := NewLogger("info", "json")
	_, ok := log.Formatter.(*logrus.JSONFormatter)
	assert.True(t, ok)
}

func TestNewLogger_DefaultsToTextFormatter(t *testing.T) {
	log := NewLogger("info", "anything-else")
	_, ok := log.Formatter.(*logrus.TextFormatter)
	assert.True(t, ok)
}
