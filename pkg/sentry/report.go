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
	"fmt"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"
)

type IssueType string

const (
	IssueTypeWarning IssueType = "warning"
	IssueTypeError   IssueType = "error"
	IssueTypeFatal   IssueType = "fatal"
)

// debounceWindow limits how often the same issue title is forwarded to Sentry.
// The log line is always written.
const debounceWindow = 10 * time.Minute

var (
	lastSent   = make(map[string]time.Time)
	lastSentMu sync.Mutex
)

func shouldSend(err error) bool {
	lastSentMu.Lock()
	defer lastSentMu.Unlock()

	key := getMeaningfulErrorTitle(err)
	if t, ok := lastSent[key]; ok && time.Since(t) < debounceWindow {
		return false
	}
	lastSent[key] = time.Now()

	return true
}

func ReportIssue(err error, issueType IssueType, log *zap.SugaredLogger) {
	ReportIssueWithContext(err, issueType, log, nil)
}

func ReportIssuef(issueType IssueType, log *zap.SugaredLogger, template string, args ...interface{}) {
	ReportIssue(fmt.Errorf(template, args...), issueType, log)
}

// ReportIssueWithContext reports an issue with additional context data that will be included in Sentry.
func ReportIssueWithContext(err error, issueType IssueType, log *zap.SugaredLogger, context map[string]interface{}) {
	if err == nil {
		return
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	level := sentry.LevelWarning
	switch issueType {
	case IssueTypeError:
		level = sentry.LevelError
		log.Errorw(err.Error(), flatten(context)...)
	case IssueTypeFatal:
		level = sentry.LevelFatal
		log.Errorw(err.Error(), flatten(context)...)
	default:
		log.Warnw(err.Error(), flatten(context)...)
	}

	if shouldSend(err) {
		sendSentryEvent(createSentryEvent(level, err, context))
	}
}

func flatten(context map[string]interface{}) []interface{} {
	kv := make([]interface{}, 0, len(context)*2)
	for k, v := range context {
		kv = append(kv, k, v)
	}

	return kv
}
