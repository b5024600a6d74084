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

package config_test

import (
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/spatial-sync/pkg/config"
)

var _ = Describe("Config", func() {
	var touched []string

	setenv := func(key, value string) {
		Expect(os.Setenv(key, value)).To(Succeed())
		touched = append(touched, key)
	}

	AfterEach(func() {
		for _, key := range touched {
			Expect(os.Unsetenv(key)).To(Succeed())
		}
		touched = nil
	})

	writeFile := func(content string) string {
		path := filepath.Join(GinkgoT().TempDir(), "config.yaml")
		Expect(os.WriteFile(path, []byte(content), 0o600)).To(Succeed())

		return path
	}

	It("loads the defaults", func() {
		cfg, err := config.Load()
		Expect(err).NotTo(HaveOccurred())

		Expect(cfg.Transport.AutoReconnect).To(BeTrue())
		Expect(cfg.Transport.MaxReconnectAttempts).To(Equal(10))
		Expect(cfg.Transport.ReconnectDelay).To(Equal(time.Second))
		Expect(cfg.Transport.HeartbeatInterval).To(Equal(30 * time.Second))
		Expect(cfg.Transport.AckRetry.MaxRetries).To(Equal(3))
		Expect(cfg.Coordinator.RetryInterval).To(Equal(time.Second))
		Expect(cfg.Coordinator.TimeoutInterval).To(Equal(5 * time.Second))
		Expect(cfg.Persistence.Path).To(BeEmpty())
	})

	It("overlays the YAML file on the defaults", func() {
		setenv(config.FileEnvVar, writeFile(`
transport:
  url: ws://backend:9000/ws
  heartbeatInterval: 10s
  ackRetry:
    maxRetries: 5
coordinator:
  maxDelay: 1m
persistence:
  path: /data/state.db
`))

		cfg, err := config.Load()
		Expect(err).NotTo(HaveOccurred())

		Expect(cfg.Transport.URL).To(Equal("ws://backend:9000/ws"))
		Expect(cfg.Transport.HeartbeatInterval).To(Equal(10 * time.Second))
		Expect(cfg.Transport.AckRetry.MaxRetries).To(Equal(5))
		Expect(cfg.Transport.AckRetry.BaseDelay).To(Equal(time.Second))
		Expect(cfg.Coordinator.MaxDelay).To(Equal(time.Minute))
		Expect(cfg.Coordinator.MaxRetries).To(Equal(3))
		Expect(cfg.Persistence.Path).To(Equal("/data/state.db"))
	})

	It("lets environment variables win over the file", func() {
		setenv(config.FileEnvVar, writeFile("transport:\n  url: ws://from-file/ws\n"))
		setenv("BACKEND_WS_URL", "ws://from-env/ws")
		setenv("AUTO_RECONNECT", "false")
		setenv("RECONNECT_DELAY", "250")
		setenv("ACK_MULTIPLIER", "3")
		setenv("COORDINATOR_TIMEOUT_INTERVAL", "2s")
		setenv("BACKEND_WS_PROTOCOLS", "spatial.v1,spatial.v2")

		cfg, err := config.Load()
		Expect(err).NotTo(HaveOccurred())

		Expect(cfg.Transport.URL).To(Equal("ws://from-env/ws"))
		Expect(cfg.Transport.AutoReconnect).To(BeFalse())
		Expect(cfg.Transport.ReconnectDelay).To(Equal(250 * time.Millisecond))
		Expect(cfg.Transport.AckRetry.Multiplier).To(Equal(3.0))
		Expect(cfg.Coordinator.TimeoutInterval).To(Equal(2 * time.Second))
		Expect(cfg.Transport.Protocols).To(Equal([]string{"spatial.v1", "spatial.v2"}))
	})

	It("fails on an unreadable file", func() {
		setenv(config.FileEnvVar, filepath.Join(GinkgoT().TempDir(), "missing.yaml"))

		_, err := config.Load()
		Expect(err).To(MatchError(ContainSubstring("failed to read config file")))
	})

	It("fails on invalid YAML", func() {
		setenv(config.FileEnvVar, writeFile("transport: ["))

		_, err := config.Load()
		Expect(err).To(MatchError(ContainSubstring("failed to parse config file")))
	})

	DescribeTable("Validate",
		func(mutate func(*config.Config), message string) {
			cfg := config.Defaults()
			mutate(&cfg)

			Expect(cfg.Validate()).To(MatchError(ContainSubstring(message)))
		},
		Entry("empty url", func(c *config.Config) { c.Transport.URL = "" }, "transport url"),
		Entry("negative delay", func(c *config.Config) { c.Coordinator.InitialDelay = -time.Second }, "coordinator.initialDelay"),
		Entry("multiplier below one", func(c *config.Config) { c.Transport.ReconnectMultiplier = 0.5 }, "transport.reconnectMultiplier"),
		Entry("negative retries", func(c *config.Config) { c.Transport.AckRetry.MaxRetries = -1 }, "transport.ackRetry.maxRetries"),
		Entry("bad schema version", func(c *config.Config) { c.DomainSync.SchemaVersion = "latest" }, "domainSync.schemaVersion"),
	)

	It("accepts the defaults", func() {
		Expect(config.Defaults().Validate()).To(Succeed())
	})
})
