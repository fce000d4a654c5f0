package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/cognicore/tagstream/pkg/tagstream/store"
	"github.com/cognicore/tagstream/pkg/tagstream/store/storetest"
)

func openTemp(t *testing.T) store.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tagstream.db")
	st, err := OpenSQLite(context.Background(), path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestContract(t *testing.T) {
	storetest.Run(t, openTemp)
}

func TestReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "tagstream.db")

	st, err := OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	if _, err := st.UpsertChannel(ctx, store.Channel{ExternalID: "c", Active: true}); err != nil {
		t.Fatalf("UpsertChannel: %v", err)
	}
	st.Close()

	st, err = OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st.Close()

	chans, err := st.ListChannels(ctx, true)
	if err != nil {
		t.Fatalf("ListChannels: %v", err)
	}
	if len(chans) != 1 {
		t.Fatalf("expected 1 channel after reopen, got %d", len(chans))
	}
}

func TestUnknownChannelRejected(t *testing.T) {
	st := openTemp(t)
	_, err := st.UpsertMessage(context.Background(), store.Message{ChannelID: 42, OriginID: 1, PostedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)})
	if err == nil {
		t.Fatal("expected foreign key failure for unknown channel")
	}
}

func TestWithPragmas(t *testing.T) {
	if got := withPragmas("a.db"); got != "a.db?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)" {
		t.Fatalf("withPragmas = %q", got)
	}
	if got := withPragmas("file:a.db?mode=rwc"); got != "file:a.db?mode=rwc&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)" {
		t.Fatalf("withPragmas = %q", got)
	}
}
