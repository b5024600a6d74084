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

// Package backendapi is the HTTP client for the agent clarification endpoints.
package backendapi

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/spatial-sync/pkg/clarification"
	"github.com/united-manufacturing-hub/spatial-sync/pkg/logger"
	"github.com/united-manufacturing-hub/spatial-sync/pkg/metrics"
)

// maxErrorBody caps how much of an error response ends up in messages.
const maxErrorBody = 512

// DefaultTimeout applies when Config.Timeout is not positive.
const DefaultTimeout = 10 * time.Second

type Config struct {
	BaseURL   string        `yaml:"baseUrl"`
	AuthToken string        `yaml:"authToken"`
	Timeout   time.Duration `yaml:"timeout"`
}

// AckRequest is the body of a lifecycle acknowledgement.
type AckRequest struct {
	AckType      clarification.AckType `json:"ackType"`
	RequestToken string                `json:"requestToken"`
	Reason       string                `json:"reason,omitempty"`
}

// RespondRequest is the body of a user response.
type RespondRequest struct {
	Response     string         `json:"response"`
	ResponseData map[string]any `json:"responseData,omitempty"`
}

type pendingResponse struct {
	Data struct {
		Clarifications []clarification.Request `json:"clarifications"`
	} `json:"data"`
}

// Client talks to the backend over HTTP. Every error it returns wraps an *APIError.
type Client struct {
	http    *http.Client
	log     *zap.SugaredLogger
	baseURL string
	token   string
}

func New(cfg Config, log *zap.SugaredLogger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Client{
		// nil Transport uses http.DefaultTransport
		http:    &http.Client{Timeout: timeout},
		log:     logger.OrNop(log),
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.AuthToken,
	}
}

func (c *Client) clarificationPath(agentID, requestID, action string) string {
	return fmt.Sprintf("%s/agents/%s/clarifications/%s/%s",
		c.baseURL, url.PathEscape(agentID), url.PathEscape(requestID), action)
}

// Acknowledge reports a lifecycle stage of a request.
func (c *Client) Acknowledge(ctx context.Context, agentID, requestID string, req AckRequest) error {
	return c.do(ctx, http.MethodPost, c.clarificationPath(agentID, requestID, "ack"), req, nil)
}

// Respond submits the user's answer to a request.
func (c *Client) Respond(ctx context.Context, agentID, requestID string, req RespondRequest) error {
	return c.do(ctx, http.MethodPost, c.clarificationPath(agentID, requestID, "respond"), req, nil)
}

// ListPendingClarifications returns every request the backend still waits on.
func (c *Client) ListPendingClarifications(ctx context.Context) ([]clarification.Request, error) {
	var out pendingResponse
	if err := c.do(ctx, http.MethodGet, c.baseURL+"/clarifications/pending", nil, &out); err != nil {
		return nil, err
	}

	return out.Data.Clarifications, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return categorize(&APIError{
				Type:    ErrorTypeBadRequest,
				Message: fmt.Sprintf("failed to encode request: %s", err),
				Err:     err,
			})
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return categorize(&APIError{
			Type:    ErrorTypeBadRequest,
			Message: fmt.Sprintf("failed to build request: %s", err),
			Err:     err,
		})
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.IncErrorCount(metrics.ComponentBackendAPI)

		return categorize(&APIError{
			Type:    ErrorTypeNetwork,
			Message: fmt.Sprintf("%s %s failed: %s", method, endpoint, err),
			Err:     err,
		})
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return categorize(&APIError{
			Type:       ErrorTypeNetwork,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("failed to read response of %s %s: %s", method, endpoint, err),
			Err:        err,
		})
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.IncErrorCount(metrics.ComponentBackendAPI)
		snippet := respBody
		if len(snippet) > maxErrorBody {
			snippet = snippet[:maxErrorBody]
		}
		apiErr := &APIError{
			Type:       classifyStatus(resp.StatusCode),
			StatusCode: resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header),
			Message:    fmt.Sprintf("%s %s returned %d: %s", method, endpoint, resp.StatusCode, strings.TrimSpace(string(snippet))),
		}
		c.log.Debugw("Backend request failed", "type", apiErr.Type, "status", resp.StatusCode)

		return categorize(apiErr)
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return categorize(&APIError{
			Type:       ErrorTypeUnknown,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("failed to decode response of %s %s: %s", method, endpoint, err),
			Err:        err,
		})
	}

	return nil
}
