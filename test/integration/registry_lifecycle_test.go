//go:build integration

package integration

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/rheahq/rhea/internal/domain"
	"github.com/rheahq/rhea/internal/infra"
	"github.com/rheahq/rhea/internal/usecase"
)

var _ = Describe("Registry Lifecycle", func() {
	var (
		daemonsRoot string
		workRoot    string
		registry    *infra.FileRegistry
		source      *infra.FilesystemSource
		events      *infra.JSONLEventLog
		syncer      *usecase.Syncer
	)

	writeDaemon := func(name string) {
		dir := filepath.Join(daemonsRoot, name)
		Expect(os.MkdirAll(dir, 0755)).To(Succeed())
		script := filepath.Join(dir, name+".py")
		Expect(os.WriteFile(script, []byte("print('hi')\n"), 0644)).To(Succeed())
	}

	BeforeEach(func() {
		var err error
		daemonsRoot, err = os.MkdirTemp("", "rhea-daemons-*")
		Expect(err).NotTo(HaveOccurred())
		workRoot, err = os.MkdirTemp("", "rhea-work-*")
		Expect(err).NotTo(HaveOccurred())

		registry, err = infra.NewFileRegistry(workRoot, daemonsRoot, zap.NewNop())
		Expect(err).NotTo(HaveOccurred())
		source = infra.NewFilesystemSource(daemonsRoot)
		events = infra.NewJSONLEventLog(workRoot)
		syncer = usecase.NewSyncer(source, registry, events, zap.NewNop())
	})

	AfterEach(func() {
		events.Close()
		os.RemoveAll(daemonsRoot)
		os.RemoveAll(workRoot)
	})

	Describe("Sync", func() {
		Context("when new daemons appear on disk", func() {
			It("should register them and persist the registry", func() {
				writeDaemon("echo")
				writeDaemon("mirror")

				sc := domain.NewSafetyContext("rhea", false, true)
				result, err := syncer.Sync(sc)
				Expect(err).NotTo(HaveOccurred())
				Expect(result.Discovered).To(Equal(2))
				Expect(result.Changes).To(ConsistOf("added echo", "added mirror"))
				Expect(result.Saved).To(BeTrue())

				state, err := registry.Load()
				Expect(err).NotTo(HaveOccurred())
				Expect(state.Daemons).To(HaveLen(2))
				Expect(state.Daemons["echo"].Enabled).To(BeTrue())
			})

			It("should be idempotent on a second pass", func() {
				writeDaemon("echo")

				sc := domain.NewSafetyContext("rhea", false, true)
				_, err := syncer.Sync(sc)
				Expect(err).NotTo(HaveOccurred())

				again, err := syncer.Sync(sc)
				Expect(err).NotTo(HaveOccurred())
				Expect(again.Changes).To(BeEmpty())
			})
		})

		Context("when running without confirmation", func() {
			It("should report changes but leave the registry untouched", func() {
				writeDaemon("echo")

				sc := domain.NewSafetyContext("rhea", false, false)
				result, err := syncer.Sync(sc)
				Expect(err).NotTo(HaveOccurred())
				Expect(result.Changes).NotTo(BeEmpty())
				Expect(result.Saved).To(BeFalse())

				_, statErr := os.Stat(registry.Path())
				Expect(os.IsNotExist(statErr)).To(BeTrue())
			})
		})

		Context("when a script disappears", func() {
			It("should disable the record without deleting it", func() {
				writeDaemon("echo")

				sc := domain.NewSafetyContext("rhea", false, true)
				_, err := syncer.Sync(sc)
				Expect(err).NotTo(HaveOccurred())

				Expect(os.RemoveAll(filepath.Join(daemonsRoot, "echo"))).To(Succeed())

				result, err := syncer.Sync(sc)
				Expect(err).NotTo(HaveOccurred())
				Expect(result.Changes).To(HaveLen(1))
				Expect(result.Changes[0]).To(ContainSubstring("disabled echo"))

				state, err := registry.Load()
				Expect(err).NotTo(HaveOccurred())
				Expect(state.Daemons).To(HaveKey("echo"))
				Expect(state.Daemons["echo"].Enabled).To(BeFalse())
			})
		})

		Context("when saving over an existing registry", func() {
			It("should leave a timestamped backup behind", func() {
				writeDaemon("echo")
				sc := domain.NewSafetyContext("rhea", false, true)
				_, err := syncer.Sync(sc)
				Expect(err).NotTo(HaveOccurred())

				writeDaemon("mirror")
				_, err = syncer.Sync(sc)
				Expect(err).NotTo(HaveOccurred())

				backups, err := filepath.Glob(registry.Path() + ".bak-*")
				Expect(err).NotTo(HaveOccurred())
				Expect(backups).To(HaveLen(1))
			})
		})

		Context("when the registry file is hand-corrupted", func() {
			It("should self-heal on the next sync", func() {
				writeDaemon("echo")
				sc := domain.NewSafetyContext("rhea", false, true)
				_, err := syncer.Sync(sc)
				Expect(err).NotTo(HaveOccurred())

				Expect(os.WriteFile(registry.Path(), []byte(`{"daemons": "oops"}`), 0644)).To(Succeed())

				result, err := syncer.Sync(sc)
				Expect(err).NotTo(HaveOccurred())
				Expect(result.Changes).To(ContainElement("added echo"))

				state, err := registry.Load()
				Expect(err).NotTo(HaveOccurred())
				Expect(state.Daemons).To(HaveKey("echo"))
			})
		})
	})

	Describe("Event log", func() {
		It("should record one scan event per sync", func() {
			writeDaemon("echo")
			sc := domain.NewSafetyContext("rhea", false, true)
			_, err := syncer.Sync(sc)
			Expect(err).NotTo(HaveOccurred())

			entries, err := events.Entries(domain.EventFilter{Action: domain.ActionScan})
			Expect(err).NotTo(HaveOccurred())
			Expect(entries).To(HaveLen(1))
			Expect(entries[0].Outcome).To(Equal(domain.OutcomeOK))
		})
	})
})
