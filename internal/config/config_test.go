package config

import (
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("config", func() {
	BeforeEach(func() {
		reset()
	})

	AfterEach(func() {
		reset()
	})

	It("loads the defaults", func() {
		cfg, err := New()
		Expect(err).To(BeNil())

		Expect(cfg.Dispatch.ChunkSize).To(Equal(30))
		Expect(cfg.Dispatch.Workers).To(Equal(6))
		Expect(cfg.Dispatch.RetryDelay).To(Equal(time.Second))
		Expect(cfg.Dispatch.MaxAttempts).To(Equal(-1))
		Expect(cfg.Dispatch.JobDeadline).To(BeZero())
		Expect(cfg.Workflow.ResponseMode).To(Equal("streaming"))
		Expect(cfg.Workflow.RequestTimeout).To(Equal(180 * time.Second))
		Expect(cfg.Dataset.DenyList).To(Equal([]string{"id", "ID"}))
		Expect(cfg.Service.AllowedExtensions).To(Equal([]string{"xlsx", "xls"}))
		Expect(cfg.Storage.Type).To(Equal("local"))
		Expect(cfg.Events.Enabled).To(BeFalse())
		Expect(cfg.Events.Topic).To(Equal("sheetfilter.events"))
	})

	It("returns the same instance", func() {
		a, err := New()
		Expect(err).To(BeNil())
		b, err := New()
		Expect(err).To(BeNil())
		Expect(a).To(BeIdenticalTo(b))
	})

	It("reads environment overrides", func() {
		GinkgoT().Setenv("SHEET_FILTER_CHUNK_SIZE", "10")
		GinkgoT().Setenv("SHEET_FILTER_WORKFLOW_RESPONSE_MODE", "blocking")

		cfg, err := New()
		Expect(err).To(BeNil())
		Expect(cfg.Dispatch.ChunkSize).To(Equal(10))
		Expect(cfg.Workflow.ResponseMode).To(Equal("blocking"))
	})

	It("rejects invalid values", func() {
		GinkgoT().Setenv("SHEET_FILTER_WORKERS", "0")

		_, err := New()
		Expect(err).NotTo(BeNil())
	})

	It("requires a bucket for s3 storage", func() {
		GinkgoT().Setenv("SHEET_FILTER_STORAGE", "s3")

		_, err := New()
		Expect(err).To(MatchError(ContainSubstring("bucket")))
	})

	It("applies a YAML file below the environment", func() {
		path := filepath.Join(GinkgoT().TempDir(), "config.yaml")
		Expect(os.WriteFile(path, []byte(`
SHEET_FILTER_CHUNK_SIZE: 50
SHEET_FILTER_WORKERS: 2
SHEET_FILTER_ALLOWED_EXTENSIONS: [xlsx]
`), 0600)).To(Succeed())
		GinkgoT().Setenv("SHEET_FILTER_WORKERS", "4")
		// registered so the variables set from the file are restored afterwards
		GinkgoT().Setenv("SHEET_FILTER_CHUNK_SIZE", "")
		Expect(os.Unsetenv("SHEET_FILTER_CHUNK_SIZE")).To(Succeed())
		GinkgoT().Setenv("SHEET_FILTER_ALLOWED_EXTENSIONS", "")
		Expect(os.Unsetenv("SHEET_FILTER_ALLOWED_EXTENSIONS")).To(Succeed())

		cfg, err := Load(path)
		Expect(err).To(BeNil())
		Expect(cfg.Dispatch.ChunkSize).To(Equal(50))
		Expect(cfg.Dispatch.Workers).To(Equal(4))
		Expect(cfg.Service.AllowedExtensions).To(Equal([]string{"xlsx"}))
	})

	It("applies a dotenv file below the environment", func() {
		path := filepath.Join(GinkgoT().TempDir(), "sheet-filter.env")
		Expect(os.WriteFile(path, []byte("SHEET_FILTER_CHUNK_SIZE=12\nSHEET_FILTER_WORKERS=9\n"), 0600)).To(Succeed())
		GinkgoT().Setenv("SHEET_FILTER_WORKERS", "3")
		GinkgoT().Setenv("SHEET_FILTER_CHUNK_SIZE", "")
		Expect(os.Unsetenv("SHEET_FILTER_CHUNK_SIZE")).To(Succeed())

		cfg, err := Load(path)
		Expect(err).To(BeNil())
		Expect(cfg.Dispatch.ChunkSize).To(Equal(12))
		Expect(cfg.Dispatch.Workers).To(Equal(3))
	})

	It("fails on a missing file", func() {
		_, err := Load(filepath.Join(GinkgoT().TempDir(), "missing.yaml"))
		Expect(err).NotTo(BeNil())
	})
})
