package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/cognicore/tagstream/pkg/tagstream/store"
	"github.com/cognicore/tagstream/pkg/tagstream/store/storetest"
)

// Runs against a live database only when TAGSTREAM_TEST_PG_DSN is set. Each
// subtest starts from empty tables.
func TestContract(t *testing.T) {
	dsn := os.Getenv("TAGSTREAM_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TAGSTREAM_TEST_PG_DSN not set")
	}

	storetest.Run(t, func(t *testing.T) store.Store {
		ctx := context.Background()
		st, err := Open(ctx, dsn, Options{MaxConns: 4})
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		pg := st.(*pgStore)
		if _, err := pg.db.Exec(ctx, `TRUNCATE channel_analytics, message_matches, dictionary_terms, dictionary_categories, messages, channels RESTART IDENTITY CASCADE`); err != nil {
			t.Fatalf("truncate: %v", err)
		}
		t.Cleanup(func() { st.Close() })
		return st
	})
}
