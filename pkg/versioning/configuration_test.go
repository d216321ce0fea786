package versioning

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type trackedHost struct {
	*memHost
	cfg *Configuration
}

func newTrackedHost(t *testing.T) trackedHost {
	t.Helper()
	host := newMemHost(authorDescriptor(), bookDescriptor(), publisherDescriptor())
	cfg, err := EnableTracking(NewConfiguration(host))
	require.NoError(t, err)
	t.Cleanup(cfg.Close)
	return trackedHost{memHost: host, cfg: cfg}
}

func authorMap(name, postcode string) mapState {
	return mapState{
		"ID":   uint(1),
		"Name": name,
		"HomeAddress": map[string]any{
			"Line1":    "1 Main St",
			"Postcode": postcode,
		},
	}
}

func bookMap(title string, published bool, notVersioned, lock, auto int) mapState {
	return mapState{
		"ID":           uint(10),
		"Author":       ref{ID: 1},
		"Title":        title,
		"Published":    published,
		"NotVersioned": notVersioned,
		"LockVersion":  lock,
		"AutoUpdate":   auto,
	}
}

func TestEnableTracking(t *testing.T) {
	h := newTrackedHost(t)

	require.Len(t, h.schemas, 2, "only tracked entities get a history table")
	assert.Equal(t, "author_versions", h.schemas[0].Table)
	assert.Equal(t, "book_versions", h.schemas[1].Table)
	assert.Equal(t, h.schemas, h.cfg.HistorySchemas())
	assert.Equal(t, 3, h.subscribers())

	_, ok := h.cfg.Entity("Publisher")
	assert.False(t, ok)
	te, ok := h.cfg.Entity("Book")
	require.True(t, ok)
	assert.Equal(t, "book_versions", te.Table)
}

func TestEnableTrackingIsIdempotent(t *testing.T) {
	h := newTrackedHost(t)

	again, err := EnableTracking(h.cfg)
	require.NoError(t, err)
	assert.Same(t, h.cfg, again)
	assert.Len(t, h.schemas, 2)
	assert.Equal(t, 3, h.subscribers())
}

func TestEnableTrackingRejectsInvalidEntity(t *testing.T) {
	bad := authorDescriptor()
	bad.Abstract = true
	host := newMemHost(bad)

	_, err := EnableTracking(NewConfiguration(host))
	require.ErrorIs(t, err, ErrAbstractEntity)
	assert.Zero(t, host.subscribers())
	assert.Empty(t, host.schemas)
}

func TestCloseUnsubscribes(t *testing.T) {
	host := newMemHost(authorDescriptor())
	cfg, err := EnableTracking(NewConfiguration(host))
	require.NoError(t, err)

	cfg.Close()
	assert.Zero(t, host.subscribers())
}

func TestRouteRequiresTransaction(t *testing.T) {
	h := newTrackedHost(t)

	err := h.emit(Event{Op: OpInsert, Entity: "Author", ID: uint(1), State: authorMap("a", "2000")})
	require.ErrorIs(t, err, ErrNoTransaction)

	err = h.emit(Event{Op: OpInsert, Entity: "Publisher", ID: uint(1), State: mapState{"Name": "p"}})
	require.NoError(t, err, "untracked entities need no transaction")
}

func TestTrackedProperties(t *testing.T) {
	ctx := context.Background()

	t.Run("insert_always_versioned", func(t *testing.T) {
		h := newTrackedHost(t)
		tx := h.begin()
		require.NoError(t, h.emit(Event{Context: ctx, Op: OpInsert, Entity: "Author", ID: uint(1), State: authorMap("a", "2000"), Tx: tx}))
		require.NoError(t, tx.commit(ctx))

		rows := h.rows("author_versions")
		require.Len(t, rows, 1)
		assert.Equal(t, uint(1), rows[0]["author_id"])
		assert.Equal(t, "2000", rows[0]["home_postcode"])
	})

	t.Run("noop_update_produces_nothing", func(t *testing.T) {
		h := newTrackedHost(t)
		tx := h.begin()
		state := authorMap("a", "2000")
		require.NoError(t, h.emit(Event{Op: OpUpdate, Entity: "Author", ID: uint(1), OldState: state, State: state, Tx: tx}))
		require.NoError(t, tx.commit(ctx))
		assert.Empty(t, h.rows("author_versions"))
	})

	t.Run("repeated_change_yields_one_row", func(t *testing.T) {
		h := newTrackedHost(t)
		tx := h.begin()
		prev := authorMap("a", "2000")
		for _, pc := range []string{"2001", "2002", "2003"} {
			next := authorMap("a", pc)
			require.NoError(t, h.emit(Event{Op: OpUpdate, Entity: "Author", ID: uint(1), OldState: prev, State: next, Tx: tx}))
			prev = next
		}
		require.NoError(t, tx.commit(ctx))

		rows := h.rows("author_versions")
		require.Len(t, rows, 1)
		assert.Equal(t, "2003", rows[0]["home_postcode"])
	})

	t.Run("excluded_field_is_invisible", func(t *testing.T) {
		h := newTrackedHost(t)
		tx := h.begin()
		require.NoError(t, h.emit(Event{Op: OpUpdate, Entity: "Book", ID: uint(10),
			OldState: bookMap("t", false, 0, 1, 0), State: bookMap("t", false, 1, 1, 0), Tx: tx}))
		require.NoError(t, tx.commit(ctx))
		assert.Empty(t, h.rows("book_versions"))
	})

	t.Run("auto_update_alone_is_invisible", func(t *testing.T) {
		h := newTrackedHost(t)
		tx := h.begin()
		require.NoError(t, h.emit(Event{Op: OpUpdate, Entity: "Book", ID: uint(10),
			OldState: bookMap("t", false, 0, 1, 0), State: bookMap("t", false, 1, 2, 1), Tx: tx}))
		require.NoError(t, tx.commit(ctx))
		assert.Empty(t, h.rows("book_versions"))
	})

	t.Run("auto_update_recorded_when_bundled", func(t *testing.T) {
		h := newTrackedHost(t)
		tx := h.begin()
		require.NoError(t, h.emit(Event{Op: OpUpdate, Entity: "Book", ID: uint(10),
			OldState: bookMap("t", false, 0, 1, 0), State: bookMap("t", true, 0, 2, 5), Tx: tx}))
		require.NoError(t, tx.commit(ctx))

		rows := h.rows("book_versions")
		require.Len(t, rows, 1)
		assert.Equal(t, 5, rows[0]["auto_update"])
		assert.Equal(t, 2, rows[0]["lock_version"])
		assert.Equal(t, uint(1), rows[0]["author_id"], "references are stored as identifiers")
		assert.NotContains(t, rows[0], "not_versioned")
	})

	t.Run("insert_then_updates_collapse", func(t *testing.T) {
		h := newTrackedHost(t)
		tx := h.begin()
		require.NoError(t, h.emit(Event{Op: OpInsert, Entity: "Book", ID: uint(10), State: bookMap("v1", false, 0, 1, 0), Tx: tx}))
		require.NoError(t, h.emit(Event{Op: OpUpdate, Entity: "Book", ID: uint(10),
			OldState: bookMap("v1", false, 0, 1, 0), State: bookMap("v2", false, 0, 2, 0), Tx: tx}))
		require.NoError(t, h.emit(Event{Op: OpUpdate, Entity: "Book", ID: uint(10),
			OldState: bookMap("v2", false, 0, 2, 0), State: bookMap("v3", true, 0, 3, 0), Tx: tx}))
		require.NoError(t, tx.commit(ctx))

		rows := h.rows("book_versions")
		require.Len(t, rows, 1)
		assert.Equal(t, "v3", rows[0]["title"])
		assert.Equal(t, true, rows[0]["published"])
	})

	t.Run("rollback_discards", func(t *testing.T) {
		h := newTrackedHost(t)
		tx := h.begin()
		require.NoError(t, h.emit(Event{Op: OpInsert, Entity: "Author", ID: uint(1), State: authorMap("a", "2000"), Tx: tx}))
		require.NoError(t, h.emit(Event{Op: OpDelete, Entity: "Book", ID: uint(10), OldState: bookMap("t", false, 0, 1, 0), Tx: tx}))
		tx.rollback()

		assert.Empty(t, h.rows("author_versions"))
		assert.Empty(t, h.rows("book_versions"))
		assert.Zero(t, h.cfg.Registry().Len())
	})

	t.Run("savepoint_rollback_discards_nested_changes", func(t *testing.T) {
		h := newTrackedHost(t)
		tx := h.begin()
		require.NoError(t, h.emit(Event{Op: OpInsert, Entity: "Author", ID: uint(1), State: authorMap("a", "2000"), Tx: tx}))

		tx.savepoint("sp1")
		require.NoError(t, h.emit(Event{Op: OpUpdate, Entity: "Author", ID: uint(1),
			OldState: authorMap("a", "2000"), State: authorMap("b", "2001"), Tx: tx}))
		require.NoError(t, h.emit(Event{Op: OpInsert, Entity: "Book", ID: uint(10), State: bookMap("t", false, 0, 1, 0), Tx: tx}))
		tx.rollbackTo("sp1")
		require.NoError(t, tx.commit(ctx))

		rows := h.rows("author_versions")
		require.Len(t, rows, 1)
		assert.Equal(t, "a", rows[0]["name"])
		assert.Equal(t, "2000", rows[0]["home_postcode"])
		assert.Empty(t, h.rows("book_versions"))
	})

	t.Run("flush_failure_aborts_commit", func(t *testing.T) {
		h := newTrackedHost(t)
		tx := h.begin()
		tx.failInsert = errInsertFailed
		require.NoError(t, h.emit(Event{Op: OpInsert, Entity: "Author", ID: uint(1), State: authorMap("a", "2000"), Tx: tx}))

		require.ErrorIs(t, tx.commit(ctx), errInsertFailed)
		assert.Empty(t, h.rows("author_versions"))
		assert.Zero(t, h.cfg.Registry().Len())
	})
}
