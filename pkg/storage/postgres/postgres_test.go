package postgres_test

import (
	"context"
	"os"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/accord/pkg/storage"
	entschema "github.com/papercomputeco/accord/pkg/storage/ent/schema"
	"github.com/papercomputeco/accord/pkg/storage/postgres"
	"github.com/papercomputeco/accord/pkg/storage/storagetest"
)

// connStr returns the PostgreSQL connection string from environment or skips the test.
func connStr() string {
	dsn := os.Getenv("ACCORD_TEST_POSTGRES_DSN")
	if dsn == "" {
		Skip("ACCORD_TEST_POSTGRES_DSN not set, skipping PostgreSQL tests")
	}
	return dsn
}

var _ = Describe("Driver", func() {
	storagetest.DescribeDriver(func() storage.Driver {
		ctx := context.Background()
		d, err := postgres.NewDriver(ctx, connStr())
		Expect(err).NotTo(HaveOccurred())

		// Clean all tables before each test for isolation.
		for _, t := range entschema.Tables() {
			_, err := d.Driver.DB().ExecContext(ctx, "DELETE FROM "+t.Name)
			Expect(err).NotTo(HaveOccurred())
		}
		return d
	})
})
