// Copyright 2024 The JLS Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package jls

import (
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// defaultLogger returns l, or a no-op logger if l is nil, exactly as the
// teacher's OpenSegmentWAL defaults its logger
// (_examples/bagaswh-prometheus/wal.go). The raw and serializer layers
// never log (spec.md §7); only Writer and Reader hold a logger.
func defaultLogger(l log.Logger) log.Logger {
	if l == nil {
		return log.NewNopLogger()
	}
	return l
}

func logWarn(l log.Logger, msg string, keyvals ...interface{}) {
	_ = level.Warn(l).Log(append([]interface{}{"msg", msg}, keyvals...)...)
}

func logError(l log.Logger, msg string, keyvals ...interface{}) {
	_ = level.Error(l).Log(append([]interface{}{"msg", msg}, keyvals...)...)
}
