package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/evetabi/marketmaker/internal/domain"
	"github.com/google/uuid"
)

// TestHistoryDeleteAlwaysRefused verifies the repo-level append-only guard:
// Delete never reaches the database and always returns ErrHistoryImmutable.
// The only way an entry leaves the table is through the parent market maker's
// FK cascade, which the SQL trigger alone permits.
func TestHistoryDeleteAlwaysRefused(t *testing.T) {
	// A nil DB proves the guard short-circuits before any query.
	repo := NewHistoryRepository(nil)

	err := repo.Delete(context.Background(), uuid.New())
	if !errors.Is(err, domain.ErrHistoryImmutable) {
		t.Fatalf("Delete = %v, want ErrHistoryImmutable", err)
	}
}
