// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package sentry

import (
	"strings"
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"
)

// DefaultAppVersion is the version reported by local builds; Sentry stays disabled for it.
const DefaultAppVersion = "0.0.0-dev"

var enabled atomic.Bool

// InitSentry initializes sentry with the given DSN and app version.
// An empty DSN or the dev version leaves reporting disabled; issues are then only logged.
func InitSentry(dsn string, appVersion string) {
	if dsn == "" || appVersion == "" || appVersion == DefaultAppVersion {
		zap.S().Debug("Sentry disabled (no DSN or local development build)")

		return
	}

	environment := "production"
	if strings.Contains(appVersion, "-") {
		environment = "development"
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:         dsn,
		Environment: environment,
		Release:     "spatial-sync@" + appVersion,
	})
	if err != nil {
		zap.S().Errorf("Failed to initialize Sentry: %s", err)

		return
	}

	enabled.Store(true)
}

func getMeaningfulErrorTitle(err error) string {
	message := err.Error()

	// first phrase, until period, comma or colon
	idx := strings.IndexAny(message, ".,:")
	if idx > 0 {
		message = message[:idx]
	}

	if len(message) > 100 {
		message = message[:97] + "..."
	}

	return message
}

func createSentryEvent(level sentry.Level, err error, context map[string]interface{}) *sentry.Event {
	event := sentry.NewEvent()
	event.Level = level
	event.Message = err.Error()
	event.Exception = []sentry.Exception{{
		Type:       getMeaningfulErrorTitle(err),
		Value:      err.Error(),
		Stacktrace: sentry.ExtractStacktrace(err),
	}}
	event.Fingerprint = []string{"{{ default }}", "level: " + string(level)}

	if len(context) > 0 {
		event.Extra = make(map[string]interface{}, len(context))
		for k, v := range context {
			event.Extra[k] = v
		}
	}

	return event
}

func sendSentryEvent(event *sentry.Event) {
	if !enabled.Load() {
		return
	}
	sentry.CaptureEvent(event)
}

// Flush waits up to timeout for buffered events to be delivered.
func Flush(timeout time.Duration) {
	if enabled.Load() {
		sentry.Flush(timeout)
	}
}
