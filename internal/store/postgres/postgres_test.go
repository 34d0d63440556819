package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"serialization", &pgconn.PgError{Code: pgerrcode.SerializationFailure}, true},
		{"deadlock wrapped", fmt.Errorf("update: %w", &pgconn.PgError{Code: pgerrcode.DeadlockDetected}), true},
		{"unique", &pgconn.PgError{Code: pgerrcode.UniqueViolation}, false},
		{"plain", errors.New("boom"), false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		if got := isRetryable(tt.err); got != tt.want {
			t.Fatalf("%s: isRetryable = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestIsUniqueViolation(t *testing.T) {
	if !isUniqueViolation(fmt.Errorf("insert: %w", &pgconn.PgError{Code: pgerrcode.UniqueViolation})) {
		t.Fatalf("wrapped unique violation not detected")
	}
	if isUniqueViolation(&pgconn.PgError{Code: pgerrcode.ForeignKeyViolation}) {
		t.Fatalf("foreign key violation reported as unique")
	}
}

func TestSleepWithContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sleepWithContext(ctx, time.Minute); !errors.Is(err, context.Canceled) {
		t.Fatalf("sleepWithContext = %v, want context.Canceled", err)
	}
	if err := sleepWithContext(context.Background(), time.Millisecond); err != nil {
		t.Fatalf("sleepWithContext = %v", err)
	}
}
