package config_test

import (
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/resilient-gateway/config"
)

const staticConfig = `
server:
  address: ":8080"
  environment: "dev"

discovery:
  provider: "static"
  static:
    health_check_interval: "5s"
    services:
      - name: "orders"
        instances:
          - id: "orders-1"
            host: "10.0.0.1"
            port: 8081
          - id: "orders-2"
            host: "10.0.0.2"
            port: 8081
            healthy: false
            metadata:
              zone: "b"

routes:
  - prefix: "/api/orders"
    service: "orders"
    strip_prefix: true

logging:
  level: "info"
`

var _ = Describe("Config", func() {
	var tempDir string

	writeConfig := func(content string) {
		err := os.WriteFile(filepath.Join(tempDir, "config.yaml"), []byte(content), 0644)
		Expect(err).NotTo(HaveOccurred())
	}

	BeforeEach(func() {
		var err error
		tempDir, err = os.MkdirTemp("", "config-test-*")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		os.RemoveAll(tempDir)
		os.Unsetenv("SERVER_ADDRESS")
		os.Unsetenv("CIRCUIT_BREAKER_FAILURE_THRESHOLD")
	})

	Describe("LoadFrom", func() {
		Context("with a static discovery config", func() {
			BeforeEach(func() {
				writeConfig(staticConfig)
			})

			It("should load configuration successfully", func() {
				cfg, err := config.LoadFrom(tempDir)
				Expect(err).NotTo(HaveOccurred())
				Expect(cfg).NotTo(BeNil())
			})

			It("should parse services and instances", func() {
				cfg, _ := config.LoadFrom(tempDir)
				services := cfg.Discovery.Static.Services
				Expect(services).To(HaveLen(1))
				Expect(services[0].Name).To(Equal("orders"))
				Expect(services[0].Instances).To(HaveLen(2))
				Expect(services[0].Instances[0].Healthy).To(BeNil())
				Expect(*services[0].Instances[1].Healthy).To(BeFalse())
				Expect(services[0].Instances[1].Metadata).To(HaveKeyWithValue("zone", "b"))
			})

			It("should parse routes", func() {
				cfg, _ := config.LoadFrom(tempDir)
				Expect(cfg.Routes).To(ConsistOf(config.RouteConfig{Prefix: "/api/orders", Service: "orders", StripPrefix: true}))
			})

			It("should apply resilience defaults", func() {
				cfg, _ := config.LoadFrom(tempDir)

				Expect(cfg.CircuitBreaker.FailureThreshold).To(Equal(5))
				Expect(config.Duration(cfg.CircuitBreaker.ResetTimeout)).To(Equal(60 * time.Second))
				Expect(cfg.Retry.MaxAttempts).To(Equal(3))
				Expect(config.Duration(cfg.Retry.BaseDelay)).To(Equal(time.Second))
				Expect(config.Duration(cfg.Retry.MaxJitter)).To(Equal(100 * time.Millisecond))
				Expect(cfg.Retry.CheckBreaker).To(BeTrue())
				Expect(config.Duration(cfg.Proxy.CallTimeout)).To(Equal(5 * time.Second))
				Expect(cfg.Proxy.ForwardHeaders).To(ConsistOf("authorization", "content-type", "user-agent", "x-correlation-id"))
				Expect(cfg.Strategy.Type).To(Equal(config.StrategyRoundRobin))
				Expect(cfg.Metrics.BufferSize).To(Equal(1000))
			})

			It("should let environment variables override the file", func() {
				os.Setenv("SERVER_ADDRESS", ":9090")
				os.Setenv("CIRCUIT_BREAKER_FAILURE_THRESHOLD", "2")

				cfg, err := config.LoadFrom(tempDir)
				Expect(err).NotTo(HaveOccurred())
				Expect(cfg.Server.Address).To(Equal(":9090"))
				Expect(cfg.CircuitBreaker.FailureThreshold).To(Equal(2))
			})
		})

		Context("with a consul discovery config", func() {
			It("should not require static services", func() {
				writeConfig(`
discovery:
  provider: "consul"
  consul:
    address: "consul.internal:8500"
    datacenter: "dc1"
routes:
  - prefix: "/api/users"
    service: "users"
`)
				cfg, err := config.LoadFrom(tempDir)
				Expect(err).NotTo(HaveOccurred())
				Expect(cfg.Discovery.Consul.Address).To(Equal("consul.internal:8500"))
				Expect(cfg.Discovery.Consul.Datacenter).To(Equal("dc1"))
				Expect(config.Duration(cfg.Discovery.Consul.WaitTime)).To(Equal(30 * time.Second))
				Expect(cfg.Discovery.Consul.MaxWatchFailures).To(Equal(5))
			})
		})

		Context("with invalid values", func() {
			It("should reject an unknown strategy", func() {
				writeConfig(staticConfig + `
strategy:
  type: "least-conn"
`)
				_, err := config.LoadFrom(tempDir)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(MatchRegexp(`(?i)strategy`))
			})

			It("should reject a malformed reset timeout", func() {
				writeConfig(staticConfig + `
circuit_breaker:
  reset_timeout: "soon"
`)
				_, err := config.LoadFrom(tempDir)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(MatchRegexp(`(?i)circuit_?breaker`))
			})

			It("should reject a route without a leading slash", func() {
				writeConfig(`
discovery:
  provider: "consul"
routes:
  - prefix: "orders"
    service: "orders"
`)
				_, err := config.LoadFrom(tempDir)
				Expect(err).To(HaveOccurred())
			})
		})

		Context("without a config file", func() {
			It("should fail because no routes are configured", func() {
				_, err := config.LoadFrom(tempDir)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(MatchRegexp(`(?i)routes`))
			})
		})
	})

	Describe("Validate", func() {
		var cfg *config.Config

		BeforeEach(func() {
			writeConfig(staticConfig)
			var err error
			cfg, err = config.LoadFrom(tempDir)
			Expect(err).NotTo(HaveOccurred())
		})

		It("should reject an invalid environment", func() {
			cfg.Server.Environment = "qa"
			Expect(cfg.Validate()).To(HaveOccurred())
		})

		It("should reject an invalid server address", func() {
			cfg.Server.Address = "no-port"
			Expect(cfg.Validate()).To(HaveOccurred())
		})

		It("should reject a zero failure threshold", func() {
			cfg.CircuitBreaker.FailureThreshold = 0
			Expect(cfg.Validate()).To(HaveOccurred())
		})

		It("should reject an instance without a port", func() {
			cfg.Discovery.Static.Services[0].Instances[0].Port = 0
			Expect(cfg.Validate()).To(HaveOccurred())
		})

		It("should reject an unknown discovery provider", func() {
			cfg.Discovery.Provider = "etcd"
			Expect(cfg.Validate()).To(HaveOccurred())
		})

		It("should bound the retry attempt budget", func() {
			cfg.Retry.MaxAttempts = config.MaxRetryAttempts
			Expect(cfg.Validate()).To(Succeed())

			cfg.Retry.MaxAttempts = 40
			Expect(cfg.Validate()).To(MatchError(MatchRegexp("(?i)max_attempts|MaxAttempts")))
		})
	})

	Describe("Duration", func() {
		It("should yield zero for empty or malformed input", func() {
			Expect(config.Duration("")).To(BeZero())
			Expect(config.Duration("soon")).To(BeZero())
			Expect(config.Duration("250ms")).To(Equal(250 * time.Millisecond))
		})
	})
})
