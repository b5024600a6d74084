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

// Package env reads typed environment variables for the configuration layer.
//
// Every reader shares the same rules: an unset or empty variable yields the
// default unless it is required, and a value that does not parse yields the
// default unless it is required.
package env

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Parser converts the raw value of a variable.
type Parser[T any] func(raw string) (T, error)

// Get reads key with parse. kind names the expected value in errors.
func Get[T any](key string, required bool, defaultValue T, kind string, parse Parser[T]) (T, error) {
	raw, ok := os.LookupEnv(key)
	raw = strings.TrimSpace(raw)
	if !ok || raw == "" {
		if required {
			return defaultValue, fmt.Errorf("required environment variable %s is not set", key)
		}

		return defaultValue, nil
	}

	v, err := parse(raw)
	if err != nil {
		if required {
			return defaultValue, fmt.Errorf("environment variable %s must be %s: %w", key, kind, err)
		}

		return defaultValue, nil
	}

	return v, nil
}

func GetAsString(key string, required bool, defaultValue string) (string, error) {
	return Get(key, required, defaultValue, "a string", func(raw string) (string, error) { return raw, nil })
}

func GetAsInt(key string, required bool, defaultValue int) (int, error) {
	return Get(key, required, defaultValue, "an integer", strconv.Atoi)
}

func GetAsFloat(key string, required bool, defaultValue float64) (float64, error) {
	return Get(key, required, defaultValue, "a number", func(raw string) (float64, error) {
		return strconv.ParseFloat(raw, 64)
	})
}

// GetAsBool accepts true/1/yes/y/on and false/0/no/n/off in any case.
func GetAsBool(key string, required bool, defaultValue bool) (bool, error) {
	return Get(key, required, defaultValue, "a boolean", parseBool)
}

// GetAsDuration accepts Go duration strings ("1.5s") and bare integers,
// which are read as milliseconds.
func GetAsDuration(key string, required bool, defaultValue time.Duration) (time.Duration, error) {
	return Get(key, required, defaultValue, "a duration", parseDuration)
}

// GetAsList splits a comma separated value. Blank items are dropped.
func GetAsList(key string, required bool, defaultValue []string) ([]string, error) {
	return Get(key, required, defaultValue, "a list", parseList)
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(raw) {
	case "true", "1", "yes", "y", "on":
		return true, nil
	case "false", "0", "no", "n", "off":
		return false, nil
	}

	return false, fmt.Errorf("unrecognised boolean %q", raw)
}

func parseDuration(raw string) (time.Duration, error) {
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}

	return time.ParseDuration(raw)
}

func parseList(raw string) ([]string, error) {
	var items []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("no items in %q", raw)
	}

	return items, nil
}
