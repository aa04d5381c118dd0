package config_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/engram/pkg/config"
)

var _ = Describe("Config", func() {
	Describe("NewDefaultConfig", func() {
		It("populates the documented defaults", func() {
			cfg := config.NewDefaultConfig()
			Expect(cfg.Queue.BatchSize).To(Equal(5))
			Expect(cfg.Queue.FlushIntervalSeconds).To(Equal(5.0))
			Expect(cfg.Queue.MaxQueueSize).To(Equal(1000))
			Expect(cfg.Gate.Threshold).To(Equal(0.3))
			Expect(cfg.Consolidation.IntervalHours).To(Equal(24))
			Expect(cfg.Context.MaxTokens).To(Equal(1000))
			Expect(cfg.Memory.Provider).To(Equal("native"))
		})
	})

	Describe("ParseConfigTOML", func() {
		It("parses a minimal config", func() {
			data := []byte("version = 1\n\n[gate]\nthreshold = 0.5\n")
			cfg, err := config.ParseConfigTOML(data)
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Gate.Threshold).To(Equal(0.5))
		})

		It("rejects unsupported versions", func() {
			data := []byte("version = 99\n")
			_, err := config.ParseConfigTOML(data)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("unsupported config version"))
		})

		It("rejects malformed TOML", func() {
			_, err := config.ParseConfigTOML([]byte("not [valid"))
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("Configer", func() {
		var cfger *config.Configer

		BeforeEach(func() {
			var err error
			cfger, err = config.NewConfiger(GinkgoT().TempDir())
			Expect(err).NotTo(HaveOccurred())
		})

		It("returns defaults when no config file exists", func() {
			cfg, err := cfger.LoadConfig()
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Queue.BatchSize).To(Equal(5))
		})

		It("round-trips values through set and get", func() {
			Expect(cfger.SetConfigValue("gate.threshold", "0.42")).To(Succeed())
			got, err := cfger.GetConfigValue("gate.threshold")
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(Equal("0.42"))
		})

		It("rejects unknown keys", func() {
			err := cfger.SetConfigValue("nope.nothing", "1")
			Expect(err).To(HaveOccurred())
		})

		It("fills defaults for fields not present in the file", func() {
			Expect(cfger.SetConfigValue("queue.batch_size", "10")).To(Succeed())
			cfg, err := cfger.LoadConfig()
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Queue.BatchSize).To(Equal(10))
			Expect(cfg.Queue.MaxQueueSize).To(Equal(1000))
		})
	})

	Describe("ValidConfigKeys", func() {
		It("includes every key exactly once", func() {
			keys := config.ValidConfigKeys()
			seen := map[string]int{}
			for _, k := range keys {
				seen[k]++
				Expect(config.IsValidConfigKey(k)).To(BeTrue())
			}
			for k, n := range seen {
				Expect(n).To(Equal(1), "duplicate key %s", k)
			}
			Expect(keys).To(ContainElement("queue.batch_size"))
			Expect(keys).To(ContainElement("consolidation.preferred_hour"))
		})
	})
})
