package schedule

import (
	"database/sql"
	"testing"

	gbtest "github.com/teranos/gbvm/internal/testing"
)

// createTestDB creates an in-memory test database.
func createTestDB(t *testing.T) *sql.DB {
	return gbtest.CreateTestDB(t)
}
