package postgres

import (
	"database/sql"
	"os"
	"testing"

	"github.com/ory/dockertest/v3"
	"github.com/sirupsen/logrus"

	"github.com/eventtix/psp-server/pkg/pay/data/payment"
	"github.com/eventtix/psp-server/pkg/pay/data/payment/tests"

	postgrestest "github.com/eventtix/psp-server/pkg/database/postgres/test"

	_ "github.com/jackc/pgx/v4/stdlib"
)

const (
	// Used for testing ONLY, the table and migrations are external to this repository
	tableCreate = `
		CREATE TABLE eventtix__pay_payment(
			id SERIAL NOT NULL PRIMARY KEY,

			payment_id TEXT NOT NULL,
			order_id TEXT NOT NULL,
			psp_transaction_id TEXT,

			amount BIGINT NOT NULL CHECK (amount > 0),
			currency TEXT NOT NULL,
			method TEXT NOT NULL,
			state INTEGER NOT NULL,

			provider_payload BYTEA,
			instructions BYTEA,

			last_notification_seq BIGINT NOT NULL,
			review_required BOOL NOT NULL,
			side_effects_pending BOOL NOT NULL DEFAULT false,
			failure_reason TEXT,

			poll_attempts INTEGER NOT NULL,
			next_poll_at TIMESTAMP WITH TIME ZONE,

			version BIGINT NOT NULL,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL,
			updated_at TIMESTAMP WITH TIME ZONE NOT NULL,

			CONSTRAINT eventtix__pay_payment__uniq__payment_id UNIQUE (payment_id),
			CONSTRAINT eventtix__pay_payment__uniq__psp_transaction_id UNIQUE (psp_transaction_id)
		);
	`

	// Used for testing ONLY, the table and migrations are external to this repository
	tableDestroy = `
		DROP TABLE eventtix__pay_payment;
	`
)

var (
	testStore payment.Store
	teardown  func()
)

func TestMain(m *testing.M) {
	log := logrus.StandardLogger()

	testPool, err := dockertest.NewPool("")
	if err != nil {
		log.WithError(err).Error("Error creating docker pool")
		os.Exit(1)
	}

	var cleanUpFunc func()
	db, cleanUpFunc, err := postgrestest.StartPostgresDB(testPool)
	if err != nil {
		log.WithError(err).Error("Error starting postgres image")
		os.Exit(1)
	}
	defer db.Close()

	if err := createTestTables(db); err != nil {
		logrus.StandardLogger().WithError(err).Error("Error creating test tables")
		cleanUpFunc()
		os.Exit(1)
	}

	testStore = New(db)
	teardown = func() {
		if pc := recover(); pc != nil {
			cleanUpFunc()
			panic(pc)
		}

		if err := resetTestTables(db); err != nil {
			logrus.StandardLogger().WithError(err).Error("Error resetting test tables")
			cleanUpFunc()
			os.Exit(1)
		}
	}

	code := m.Run()
	cleanUpFunc()
	os.Exit(code)
}

func TestPaymentPostgresStore(t *testing.T) {
	tests.RunTests(t, testStore, teardown)
}

func createTestTables(db *sql.DB) error {
	_, err := db.Exec(tableCreate)
	if err != nil {
		logrus.StandardLogger().WithError(err).Error("could not create test tables")
		return err
	}
	return nil
}

func resetTestTables(db *sql.DB) error {
	_, err := db.Exec(tableDestroy)
	if err != nil {
		logrus.StandardLogger().WithError(err).Error("could not drop test tables")
		return err
	}

	return createTestTables(db)
}
