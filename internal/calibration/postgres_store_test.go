package calibration

import (
	"testing"

	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/testutil"
)

func TestPostgresStore(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	storeContract(t, NewPostgresStore(db))
}

func TestPostgresStoreEqualTimestampsPreferLaterAppend(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	equalTimestampContract(t, NewPostgresStore(db))
}
