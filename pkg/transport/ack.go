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

package transport

import (
	"sort"
	"time"

	"github.com/united-manufacturing-hub/spatial-sync/pkg/metrics"
	"github.com/united-manufacturing-hub/spatial-sync/pkg/protocol"
	"github.com/united-manufacturing-hub/spatial-sync/pkg/sentry"
)

type pendingAck struct {
	timer       *time.Timer
	lastAttempt time.Time
	messageID   string
	domain      string
	updateID    string
	retryCount  int
	nextDelay   time.Duration
	// gen invalidates timers that fired after being superseded
	gen uint64
}

// PendingAck is a snapshot of one queued ACK retry.
type PendingAck struct {
	LastAttempt time.Time
	MessageID   string
	Domain      string
	UpdateID    string
	RetryCount  int
	NextDelay   time.Duration
}

// SendAck acknowledges a chain-tracked message. A failed send is retried with
// exponential backoff and dropped with a log line once MaxRetries is exceeded.
func (t *Transport) SendAck(messageID, domain, updateID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.sendAckLocked(messageID, domain, updateID)
}

func (t *Transport) sendAckLocked(messageID, domain, updateID string) {
	entry, pending := t.pendingAcks[messageID]

	if err := t.writeLocked(protocol.NewAckFrame(messageID, domain, updateID)); err == nil {
		if pending {
			t.forgetAckLocked(entry)
		}
		metrics.IncAck(metrics.AckLayerTransport, "sent")

		return
	}

	// an already scheduled retry keeps its schedule
	if pending {
		return
	}

	entry = &pendingAck{messageID: messageID, domain: domain, updateID: updateID}
	t.pendingAcks[messageID] = entry
	t.ackFailedLocked(entry)
}

// ackFailedLocked counts a failed attempt and either schedules the next retry or
// drops the entry.
func (t *Transport) ackFailedLocked(entry *pendingAck) {
	entry.retryCount++
	entry.lastAttempt = time.Now()

	policy := t.cfg.AckRetry.Policy()
	if policy.Exhausted(entry.retryCount) {
		delete(t.pendingAcks, entry.messageID)
		metrics.IncAck(metrics.AckLayerTransport, "dropped")
		sentry.ReportIssuef(sentry.IssueTypeWarning, t.log,
			"dropping ack for message %s (domain %s, update %s) after %d failed attempts",
			entry.messageID, entry.domain, entry.updateID, entry.retryCount)

		return
	}

	entry.nextDelay = policy.Delay(entry.retryCount)
	t.armAckLocked(entry)
	metrics.IncAck(metrics.AckLayerTransport, "retried")
	t.log.Debugw("Scheduled ACK retry",
		"messageId", entry.messageID, "retryCount", entry.retryCount, "delay", entry.nextDelay)
}

func (t *Transport) armAckLocked(entry *pendingAck) {
	entry.gen++
	gen := entry.gen
	entry.timer = time.AfterFunc(entry.nextDelay, func() {
		t.retryAck(entry.messageID, gen)
	})
}

func (t *Transport) retryAck(messageID string, gen uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.pendingAcks[messageID]
	if !ok || entry.gen != gen {
		return
	}
	entry.timer = nil

	if err := t.writeLocked(protocol.NewAckFrame(entry.messageID, entry.domain, entry.updateID)); err == nil {
		delete(t.pendingAcks, messageID)
		metrics.IncAck(metrics.AckLayerTransport, "sent")

		return
	}
	t.ackFailedLocked(entry)
}

func (t *Transport) forgetAckLocked(entry *pendingAck) {
	t.parkAckLocked(entry)
	delete(t.pendingAcks, entry.messageID)
}

// parkAckLocked cancels the entry's timer but keeps the entry.
func (t *Transport) parkAckLocked(entry *pendingAck) {
	entry.gen++
	if entry.timer != nil {
		entry.timer.Stop()
		entry.timer = nil
	}
}

// flushPendingAcksLocked retries every parked ACK right away, oldest first.
func (t *Transport) flushPendingAcksLocked() {
	entries := make([]*pendingAck, 0, len(t.pendingAcks))
	for _, e := range t.pendingAcks {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].lastAttempt.Before(entries[j].lastAttempt)
	})

	for _, e := range entries {
		t.parkAckLocked(e)
		if err := t.writeLocked(protocol.NewAckFrame(e.messageID, e.domain, e.updateID)); err == nil {
			delete(t.pendingAcks, e.messageID)
			metrics.IncAck(metrics.AckLayerTransport, "sent")

			continue
		}
		t.ackFailedLocked(e)
	}
}

// PendingAcks returns a snapshot of the retry queue ordered by message id.
func (t *Transport) PendingAcks() []PendingAck {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]PendingAck, 0, len(t.pendingAcks))
	for _, e := range t.pendingAcks {
		out = append(out, PendingAck{
			MessageID:   e.messageID,
			Domain:      e.domain,
			UpdateID:    e.updateID,
			RetryCount:  e.retryCount,
			LastAttempt: e.lastAttempt,
			NextDelay:   e.nextDelay,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MessageID < out[j].MessageID })

	return out
}

func (t *Transport) PendingAckCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.pendingAcks)
}
