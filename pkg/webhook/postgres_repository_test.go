package webhook_test

import (
	"context"
	"regexp"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/fluxcode/transcoder/pkg/webhook"
)

var _ = Describe("PostgresRepository", func() {
	var (
		mock sqlmock.Sqlmock
		repo *webhook.PostgresRepository
		ctx  context.Context
	)

	BeforeEach(func() {
		db, m, err := sqlmock.New()
		Expect(err).NotTo(HaveOccurred())
		mock = m
		sqlxDB := sqlx.NewDb(db, "sqlmock")
		repo = webhook.NewPostgresRepository(sqlxDB)
		ctx = context.Background()
	})

	It("inserts a new delivery row on Create", func() {
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO webhook_deliveries")).
			WillReturnResult(sqlmock.NewResult(1, 1))

		d := &webhook.Delivery{
			ID:        "d1",
			JobID:     "job-1",
			Event:     webhook.EventComplete,
			TargetURL: "https://example.com/hook",
			Payload:   map[string]interface{}{"status": "completed"},
			Attempt:   1,
			State:     webhook.StatePending,
			CreatedAt: time.Now(),
		}
		Expect(repo.Create(ctx, d)).To(Succeed())
		Expect(mock.ExpectationsWereMet()).To(Succeed())
	})

	It("reports aggregate statistics from the state-filtered counts", func() {
		rows := sqlmock.NewRows([]string{"total", "successes", "failures", "pending", "retrying", "abandoned"}).
			AddRow(10, 7, 1, 0, 1, 1)
		mock.ExpectQuery(regexp.QuoteMeta("SELECT")).WillReturnRows(rows)

		stats, err := repo.Statistics(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(stats.Total).To(Equal(int64(10)))
		Expect(stats.Successes).To(Equal(int64(7)))
		Expect(stats.SuccessRate()).To(BeNumerically("~", 70.0, 0.01))
	})

	It("purges deliveries older than the retention window", func() {
		mock.ExpectExec(regexp.QuoteMeta("DELETE FROM webhook_deliveries")).
			WillReturnResult(sqlmock.NewResult(0, 3))

		n, err := repo.PurgeOlderThan(ctx, time.Now().Add(-7*24*time.Hour))
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(3))
	})
})
