package logging

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

var _ = Describe("Logger", func() {
	It("should parse levels", func() {
		l, err := ParseLevel("warn")
		Expect(err).NotTo(HaveOccurred())
		Expect(l).To(Equal(zapcore.WarnLevel))

		l, err = ParseLevel("")
		Expect(err).NotTo(HaveOccurred())
		Expect(l).To(Equal(zapcore.InfoLevel))

		_, err = ParseLevel("loud")
		Expect(err).To(HaveOccurred())
	})

	It("should reject unknown levels", func() {
		_, err := New(Config{Level: "loud"})
		Expect(err).To(HaveOccurred())
	})

	It("should write JSON to the output path", func() {
		path := filepath.Join(GinkgoT().TempDir(), "log.json")

		logger, err := New(Config{Level: "info", OutputPaths: []string{path}})
		Expect(err).NotTo(HaveOccurred())

		logger.Debug("hidden")
		logger.Info("cache built", zap.Int("lines", 16))
		Expect(logger.Sync()).To(Succeed())

		content, err := os.ReadFile(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(content)).To(ContainSubstring(`"message":"cache built"`))
		Expect(string(content)).To(ContainSubstring(`"lines":16`))
		Expect(string(content)).NotTo(ContainSubstring("hidden"))
	})

	It("should keep fields and names on child loggers", func() {
		core, logs := observer.New(zapcore.DebugLevel)
		logger := Wrap(zap.New(core)).Named("monitor").With(zap.String("run", "r1"))

		logger.Info("started")

		Expect(logs.Len()).To(Equal(1))
		entry := logs.All()[0]
		Expect(entry.LoggerName).To(Equal("monitor"))
		Expect(entry.ContextMap()).To(HaveKeyWithValue("run", "r1"))
	})

	It("should fall back to a no-op logger", func() {
		Expect(Wrap(nil).Logger).NotTo(BeNil())
		Expect(NewNop().Core().Enabled(zapcore.ErrorLevel)).To(BeFalse())
	})
})
