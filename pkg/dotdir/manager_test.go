package dotdir_test

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/accord/pkg/dotdir"
)

var _ = Describe("dotdir", func() {
	var tmpDir string
	var m *dotdir.Manager

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "dotdir-test-*")
		Expect(err).NotTo(HaveOccurred())

		// Resolve symlinks so paths match filepath.Abs results
		// (e.g. on macOS /var -> /private/var).
		tmpDir, err = filepath.EvalSymlinks(tmpDir)
		Expect(err).NotTo(HaveOccurred())

		GinkgoT().Setenv(dotdir.EnvHome, "")
		m = dotdir.NewManager()
	})

	AfterEach(func() {
		os.RemoveAll(tmpDir)
	})

	Describe("NewManager", func() {
		It("creates a new manager", func() {
			Expect(m).ToNot(BeNil())
		})
	})

	Describe("Target", func() {
		It("creates the directory if it doesn't exist", func() {
			dir := filepath.Join(tmpDir, "newdir")
			result, err := m.Target(dir)
			Expect(err).NotTo(HaveOccurred())
			Expect(result).To(Equal(dir))

			info, err := os.Stat(dir)
			Expect(err).NotTo(HaveOccurred())
			Expect(info.IsDir()).To(BeTrue())
		})

		It("returns existing directory without error", func() {
			result, err := m.Target(tmpDir)
			Expect(err).NotTo(HaveOccurred())
			Expect(result).To(Equal(tmpDir))
		})

		It("returns the override dir even when a local .accord dir exists", func() {
			// Create a local .accord dir in the tmpDir
			localAccord := filepath.Join(tmpDir, ".accord")
			Expect(os.Mkdir(localAccord, 0o755)).To(Succeed())

			// Change to tmpDir so the local dir is discoverable
			origDir, err := os.Getwd()
			Expect(err).NotTo(HaveOccurred())
			Expect(os.Chdir(tmpDir)).To(Succeed())
			DeferCleanup(func() { os.Chdir(origDir) })

			overrideDir := filepath.Join(tmpDir, "override")
			result, err := m.Target(overrideDir)
			Expect(err).NotTo(HaveOccurred())
			Expect(result).To(Equal(overrideDir))
		})

		It("returns the local .accord dir when it exists and no override is provided", func() {
			// Create a local .accord dir in the tmpDir
			localAccord := filepath.Join(tmpDir, ".accord")
			Expect(os.Mkdir(localAccord, 0o755)).To(Succeed())

			// Change to tmpDir so the local dir is discoverable
			origDir, err := os.Getwd()
			Expect(err).NotTo(HaveOccurred())
			Expect(os.Chdir(tmpDir)).To(Succeed())
			DeferCleanup(func() { os.Chdir(origDir) })

			result, err := m.Target("")
			Expect(err).NotTo(HaveOccurred())
			Expect(result).To(Equal(localAccord))
		})

		It("prefers $ACCORD_HOME over a local .accord dir", func() {
			Expect(os.Mkdir(filepath.Join(tmpDir, ".accord"), 0o755)).To(Succeed())
			origDir, err := os.Getwd()
			Expect(err).NotTo(HaveOccurred())
			Expect(os.Chdir(tmpDir)).To(Succeed())
			DeferCleanup(func() { os.Chdir(origDir) })

			agentHome := filepath.Join(tmpDir, "agents", "alice")
			GinkgoT().Setenv(dotdir.EnvHome, agentHome)

			result, err := m.Target("")
			Expect(err).NotTo(HaveOccurred())
			Expect(result).To(Equal(agentHome))

			result, err = m.Target(filepath.Join(tmpDir, "override"))
			Expect(err).NotTo(HaveOccurred())
			Expect(result).To(Equal(filepath.Join(tmpDir, "override")))
		})

		It("falls back to ~/.accord when no local dir exists", func() {
			emptyDir := filepath.Join(tmpDir, "empty")
			Expect(os.Mkdir(emptyDir, 0o755)).To(Succeed())

			origDir, err := os.Getwd()
			Expect(err).NotTo(HaveOccurred())
			Expect(os.Chdir(emptyDir)).To(Succeed())
			DeferCleanup(func() { os.Chdir(origDir) })

			GinkgoT().Setenv("HOME", emptyDir)

			result, err := m.Target("")
			Expect(err).NotTo(HaveOccurred())
			Expect(result).To(Equal(filepath.Join(emptyDir, ".accord")))

			info, err := os.Stat(result)
			Expect(err).NotTo(HaveOccurred())
			Expect(info.Mode().Perm()).To(Equal(os.FileMode(0o700)))
		})
	})

	Describe("Paths", func() {
		It("lays out the store, keys, registry and log under the target", func() {
			p, err := m.Paths(tmpDir)
			Expect(err).NotTo(HaveOccurred())

			Expect(p.Home).To(Equal(tmpDir))
			Expect(p.DB).To(Equal(filepath.Join(tmpDir, "accord.db")))
			Expect(p.Log).To(Equal(filepath.Join(tmpDir, "accord.log")))

			for _, dir := range []string{p.Keys, p.Registry} {
				info, err := os.Stat(dir)
				Expect(err).NotTo(HaveOccurred())
				Expect(info.IsDir()).To(BeTrue())
			}
		})

		It("computes the layout without creating anything", func() {
			p := dotdir.Layout("/nonexistent/.accord")
			Expect(p.Keys).To(Equal("/nonexistent/.accord/keys"))
			_, err := os.Stat(p.Keys)
			Expect(os.IsNotExist(err)).To(BeTrue())
		})
	})
})
