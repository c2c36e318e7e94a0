package repository

import (
	"errors"
	"testing"

	"github.com/codecollab/editor-backend/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestTranslateErr_NoRowsBecomesNotFound(t *testing.T) {
	if got := translateErr(pgx.ErrNoRows); !errors.Is(got, domain.ErrNotFound) {
		t.Fatalf("expected domain.ErrNotFound, got %v", got)
	}
}

func TestTranslateErr_UniqueViolationBecomesAlreadyExists(t *testing.T) {
	err := &pgconn.PgError{Code: "23505", Message: "duplicate key"}
	if got := translateErr(err); !errors.Is(got, domain.ErrAlreadyExists) {
		t.Fatalf("expected domain.ErrAlreadyExists, got %v", got)
	}
}

func TestTranslateErr_OtherPgErrorPassesThrough(t *testing.T) {
	err := &pgconn.PgError{Code: "23502", Message: "not null violation"}
	got := translateErr(err)
	if errors.Is(got, domain.ErrNotFound) || errors.Is(got, domain.ErrAlreadyExists) {
		t.Fatalf("did not expect sentinel translation for code 23502, got %v", got)
	}
}

func TestTranslateErr_NilStaysNil(t *testing.T) {
	if got := translateErr(nil); got != nil {
		t.Fatalf("expected nil, got %v", got)
	}
}
