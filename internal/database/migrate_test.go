package database_test

import (
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/pressly/goose/v3"

	"github.com/fluxcode/transcoder/internal/database"
)

var _ = Describe("Migrations", func() {
	It("embeds a goose-formatted migration for every core table", func() {
		entries, err := database.MigrationFiles()
		Expect(err).NotTo(HaveOccurred())

		names := make([]string, len(entries))
		for i, e := range entries {
			names[i] = e.Name()
		}
		Expect(names).To(ContainElements(
			"00001_create_jobs.sql",
			"00002_create_batches.sql",
			"00003_create_api_credentials.sql",
			"00004_create_webhook_deliveries.sql",
		))
	})

	It("every migration file declares both a goose Up and Down section", func() {
		entries, err := database.MigrationFiles()
		Expect(err).NotTo(HaveOccurred())

		for _, e := range entries {
			contents, err := database.MigrationContents(e.Name())
			Expect(err).NotTo(HaveOccurred())
			Expect(strings.Contains(contents, "-- +goose Up")).To(BeTrue(), "%s missing +goose Up", e.Name())
			Expect(strings.Contains(contents, "-- +goose Down")).To(BeTrue(), "%s missing +goose Down", e.Name())
		}
	})

	It("registers the postgres dialect without error", func() {
		Expect(goose.SetDialect("postgres")).To(Succeed())
	})
})
