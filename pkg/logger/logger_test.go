package logger_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/resilient-gateway/pkg/logger"
)

var _ = Describe("Logger", func() {
	ctx := context.Background()

	Describe("New", func() {
		It("should default to info for invalid level", func() {
			log := logger.New("invalid", false, "dev")

			Expect(log.Enabled(ctx, slog.LevelInfo)).To(BeTrue())
			Expect(log.Enabled(ctx, slog.LevelDebug)).To(BeFalse())
		})

		It("should respect debug level", func() {
			log := logger.New("debug", false, "dev")

			Expect(log.Enabled(ctx, slog.LevelDebug)).To(BeTrue())
			Expect(log.Enabled(ctx, slog.LevelInfo)).To(BeTrue())
		})

		It("should respect warn level", func() {
			log := logger.New("WARN", false, "dev")

			Expect(log.Enabled(ctx, slog.LevelInfo)).To(BeFalse())
			Expect(log.Enabled(ctx, slog.LevelWarn)).To(BeTrue())
		})

		It("should respect error level", func() {
			log := logger.New("error", false, "dev")

			Expect(log.Enabled(ctx, slog.LevelWarn)).To(BeFalse())
			Expect(log.Enabled(ctx, slog.LevelError)).To(BeTrue())
		})
	})

	Describe("NewWithWriter", func() {
		It("should write JSON with the environment in prod", func() {
			var buf bytes.Buffer
			log := logger.NewWithWriter(&buf, "info", false, "prod")

			log.Info("circuit breaker state changed", slog.String("service", "orders"))

			var record map[string]any
			Expect(json.Unmarshal(buf.Bytes(), &record)).To(Succeed())
			Expect(record).To(HaveKeyWithValue("environment", "prod"))
			Expect(record).To(HaveKeyWithValue("service", "orders"))
			Expect(record).To(HaveKeyWithValue("msg", "circuit breaker state changed"))
		})

		It("should write text outside prod", func() {
			var buf bytes.Buffer
			log := logger.NewWithWriter(&buf, "info", false, "dev")

			log.Info("hello")

			Expect(buf.String()).To(ContainSubstring("environment=dev"))
			Expect(buf.String()).To(ContainSubstring("msg=hello"))
		})
	})

	Describe("Component", func() {
		It("should tag records with the component name", func() {
			var buf bytes.Buffer
			log := logger.Component(logger.NewWithWriter(&buf, "info", false, "dev"), "proxy")

			log.Info("forwarded")

			Expect(buf.String()).To(ContainSubstring("component=proxy"))
		})
	})

	Describe("Discard", func() {
		It("should accept records without output", func() {
			Expect(func() { logger.Discard().Error("ignored") }).NotTo(Panic())
		})
	})
})
