package sqlite_test

import (
	"context"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/accord/pkg/storage"
	"github.com/papercomputeco/accord/pkg/storage/sqlite"
	"github.com/papercomputeco/accord/pkg/storage/storagetest"
)

var _ = Describe("SQLiteDriver", func() {
	storagetest.DescribeDriver(func() storage.Driver {
		d, err := sqlite.NewSQLiteDriver(context.Background(), ":memory:")
		Expect(err).NotTo(HaveOccurred())
		return d
	})

	Describe("NewSQLiteDriver", func() {
		It("creates a driver with file database", func() {
			ctx := context.Background()
			dbPath := filepath.Join(GinkgoT().TempDir(), "test.db")

			s, err := sqlite.NewSQLiteDriver(ctx, dbPath)
			Expect(err).NotTo(HaveOccurred())

			// Verify file was created
			_, err = os.Stat(dbPath)
			Expect(err).NotTo(HaveOccurred())

			id := storagetest.Identity("alice", 2)
			Expect(s.CreateIdentity(ctx, id)).To(Succeed())
			Expect(s.Close()).To(Succeed())

			// Reopening migrates an existing schema and keeps the data.
			s, err = sqlite.NewSQLiteDriver(ctx, dbPath)
			Expect(err).NotTo(HaveOccurred())
			defer s.Close()

			got, err := s.GetIdentity(ctx, id.DID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Keys).To(HaveLen(2))
		})
	})
})
