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

package backendapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/united-manufacturing-hub/spatial-sync/pkg/backoff"
)

// ErrorType classifies backend failures.
type ErrorType int

const (
	ErrorTypeUnknown ErrorType = iota
	// ErrorTypeNetwork covers DNS, connect, timeout and body read failures.
	ErrorTypeNetwork
	// ErrorTypeServer covers 5xx responses.
	ErrorTypeServer
	ErrorTypeRateLimit
	// ErrorTypeUnauthorized covers 401 and 403.
	ErrorTypeUnauthorized
	ErrorTypeNotFound
	// ErrorTypeBadRequest covers the remaining 4xx responses.
	ErrorTypeBadRequest
)

func (e ErrorType) String() string {
	switch e {
	case ErrorTypeNetwork:
		return "network"
	case ErrorTypeServer:
		return "server"
	case ErrorTypeRateLimit:
		return "rate_limit"
	case ErrorTypeUnauthorized:
		return "unauthorized"
	case ErrorTypeNotFound:
		return "not_found"
	case ErrorTypeBadRequest:
		return "bad_request"
	default:
		return "unknown"
	}
}

// Category maps the type onto the shared retry categories.
func (e ErrorType) Category() backoff.ErrorCategory {
	switch e {
	case ErrorTypeNetwork, ErrorTypeServer, ErrorTypeRateLimit, ErrorTypeUnknown:
		return backoff.CategoryTransient
	default:
		return backoff.CategoryPermanent
	}
}

// APIError is the only error type returned by Client.
type APIError struct {
	Err        error
	Message    string
	Type       ErrorType
	StatusCode int
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	return e.Message
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// Is matches another *APIError of the same type.
func (e *APIError) Is(target error) bool {
	t, ok := target.(*APIError)
	if !ok {
		return false
	}

	return e.Type == t.Type
}

// Retryable reports whether the same request may succeed later.
func (e *APIError) Retryable() bool {
	return e.Type.Category() == backoff.CategoryTransient
}

// AsAPIError extracts the *APIError from err.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	ok := errors.As(err, &apiErr)

	return apiErr, ok
}

func classifyStatus(statusCode int) ErrorType {
	switch {
	case statusCode == http.StatusTooManyRequests:
		return ErrorTypeRateLimit
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return ErrorTypeUnauthorized
	case statusCode == http.StatusNotFound:
		return ErrorTypeNotFound
	case statusCode >= 500:
		return ErrorTypeServer
	case statusCode >= 400:
		return ErrorTypeBadRequest
	default:
		return ErrorTypeUnknown
	}
}

// parseRetryAfter reads a Retry-After header in seconds or HTTP-date form.
func parseRetryAfter(headers http.Header) time.Duration {
	value := headers.Get("Retry-After")
	if value == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}

	if t, err := http.ParseTime(value); err == nil {
		if delay := time.Until(t); delay > 0 {
			return delay
		}
	}

	return 0
}

// categorize wraps apiErr so backoff.IsTransientError and friends see its category.
func categorize(apiErr *APIError) error {
	if apiErr.Retryable() {
		return backoff.NewTransientError(apiErr)
	}

	return backoff.NewPermanentError(apiErr)
}
