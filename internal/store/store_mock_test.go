package store

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/haasonsaas/hearth/internal/signal"
)

func TestInsertSignalWriteFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	s := openDB(db)

	mock.ExpectExec("INSERT INTO signals").
		WillReturnError(errors.New("disk I/O error"))

	data, _ := signal.EncodeData(signal.CronData{Cron: "0 8 * * 1"})
	_, err = s.InsertSignal(context.Background(), signal.Signal{
		AutomationFingerprint: "fp-1",
		Type:                  signal.TypeCron,
		Data:                  data,
	})
	if err == nil {
		t.Fatal("InsertSignal() swallowed write failure")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCompactStopsOnLogDeleteFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	s := openDB(db)

	mock.ExpectExec("DELETE FROM logs").
		WillReturnError(errors.New("database is locked"))

	if err := s.Compact(context.Background(), 0); err == nil {
		t.Fatal("Compact() swallowed delete failure")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestInsertLogFailureDoesNotPanic(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	s := openDB(db)

	mock.ExpectExec("INSERT INTO logs").
		WillReturnError(errors.New("read-only database"))

	if err := s.InsertLog(context.Background(), "WARN", "hub reconnect"); err == nil {
		t.Fatal("InsertLog() swallowed write failure")
	}
}
