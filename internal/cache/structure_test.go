package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var columnNames = []string{"table_name", "name", "pos"}

func TestStructCacheAllChildren(t *testing.T) {
	owner, mock := setupOwner(t)
	mock.ExpectQuery(q(listTables)).WillReturnRows(
		tableRows(mock).AddRow("a", 1).AddRow("b", 2).AddRow("empty", 0),
	)
	mock.ExpectQuery(q(listColumns)).WillReturnRows(
		mock.NewRows(columnNames).
			AddRow("a", "id", 1).
			AddRow("b", "id", 1).
			AddRow("ghost", "x", 1).
			AddRow("a", "name", 2).
			AddRow("b", "total", 2),
	)

	obs := &recordingObserver{}
	c := NewStructCache(columnSpec(), WithObserver(obs))
	ctx := context.Background()

	all, err := c.AllChildren(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, []column{
		{"a", "id", 1}, {"a", "name", 2},
		{"b", "id", 1}, {"b", "total", 2},
	}, all)
	assert.Len(t, obs.skipped, 1)
	assert.Contains(t, obs.skipped[0], `unknown parent "ghost"`)

	kids, err := c.Children(ctx, owner, table{Name: "b"})
	require.NoError(t, err)
	assert.Equal(t, []column{{"b", "id", 1}, {"b", "total", 2}}, kids)

	kids, ok := c.CachedChildren(table{Name: "empty"})
	require.True(t, ok)
	assert.Empty(t, kids)

	again, err := c.AllChildren(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, all, again)
	assert.EqualValues(t, 2, owner.exec.opens.Load())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStructCacheChildrenOfOneParent(t *testing.T) {
	owner, mock := setupOwner(t)
	mock.ExpectQuery(q(lookupTable)).WithArgs("a").WillReturnRows(tableRows(mock).AddRow("a", 1))
	mock.ExpectQuery(q(tableColumns)).WithArgs("a").WillReturnRows(
		mock.NewRows(columnNames).AddRow("a", "id", 1).AddRow("a", "name", 2),
	)

	c := NewStructCache(columnSpec())
	ctx := context.Background()
	parent, ok, err := c.Get(ctx, owner, "a")
	require.NoError(t, err)
	require.True(t, ok)

	col, ok, err := c.Child(ctx, owner, parent, "name")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, col.Pos)

	_, ok, err = c.Child(ctx, owner, parent, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStructCacheParentFetchedAfterBatchLoad(t *testing.T) {
	owner, mock := setupOwner(t)
	mock.ExpectQuery(q(listTables)).WillReturnRows(tableRows(mock).AddRow("a", 1))
	mock.ExpectQuery(q(listColumns)).WillReturnRows(
		mock.NewRows(columnNames).AddRow("a", "id", 1),
	)
	mock.ExpectQuery(q(tableColumns)).WithArgs("late").WillReturnRows(
		mock.NewRows(columnNames).AddRow("late", "id", 1),
	)

	c := NewStructCache(columnSpec())
	ctx := context.Background()
	_, err := c.AllChildren(ctx, owner)
	require.NoError(t, err)

	late := table{Name: "late"}
	c.CacheObject(late)
	kids, err := c.Children(ctx, owner, late)
	require.NoError(t, err)
	assert.Equal(t, []column{{"late", "id", 1}}, kids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStructCacheRefreshDropsChildren(t *testing.T) {
	owner, mock := setupOwner(t)
	mock.ExpectQuery(q(lookupTable)).WithArgs("a").WillReturnRows(tableRows(mock).AddRow("a", 1))
	mock.ExpectQuery(q(tableColumns)).WithArgs("a").WillReturnRows(
		mock.NewRows(columnNames).AddRow("a", "id", 1),
	)
	mock.ExpectQuery(q(lookupTable)).WithArgs("a").WillReturnRows(tableRows(mock).AddRow("a", 1))
	mock.ExpectQuery(q(tableColumns)).WithArgs("a").WillReturnRows(
		mock.NewRows(columnNames).AddRow("a", "id", 1).AddRow("a", "added", 2),
	)

	c := NewStructCache(columnSpec())
	ctx := context.Background()
	parent, _, err := c.Get(ctx, owner, "a")
	require.NoError(t, err)
	kids, err := c.Children(ctx, owner, parent)
	require.NoError(t, err)
	assert.Len(t, kids, 1)

	parent, ok, err := c.Refresh(ctx, owner, parent)
	require.NoError(t, err)
	require.True(t, ok)
	_, ok = c.CachedChildren(parent)
	assert.False(t, ok)

	kids, err = c.Children(ctx, owner, parent)
	require.NoError(t, err)
	assert.Len(t, kids, 2)

	c.RemoveObject(parent)
	_, ok = c.CachedChildren(parent)
	assert.False(t, ok)
	_, ok = c.CachedObject("a")
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStructCacheFailureLeavesCacheUntouched(t *testing.T) {
	owner, mock := setupOwner(t)
	mock.ExpectQuery(q(tableColumns)).WithArgs("a").WillReturnRows(
		mock.NewRows(columnNames).AddRow("a", "id", 1),
	)
	mock.ExpectQuery(q(listTables)).WillReturnRows(tableRows(mock).AddRow("a", 1).AddRow("b", 2))
	mock.ExpectQuery(q(listColumns)).WillReturnError(errors.New("connection reset"))
	mock.ExpectQuery(q(tableColumns)).WithArgs("b").WillReturnError(errors.New("connection reset"))
	mock.ExpectQuery(q(listColumns)).WillReturnRows(
		mock.NewRows(columnNames).AddRow("a", "id", 1).AddRow("b", "id", 1),
	)

	c := NewStructCache(columnSpec())
	ctx := context.Background()
	a, b := table{Name: "a"}, table{Name: "b"}
	_, err := c.Children(ctx, owner, a)
	require.NoError(t, err)

	_, err = c.AllChildren(ctx, owner)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load tables children")
	assert.False(t, IsCanceled(err))

	_, err = c.Children(ctx, owner, b)
	require.Error(t, err)

	kids, ok := c.CachedChildren(a)
	require.True(t, ok)
	assert.Equal(t, []column{{"a", "id", 1}}, kids)
	_, ok = c.CachedChildren(b)
	assert.False(t, ok)
	assert.Equal(t, Full, c.State())

	all, err := c.AllChildren(ctx, owner)
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStructCacheCancellation(t *testing.T) {
	t.Run("before population", func(t *testing.T) {
		owner, mock := setupOwner(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		c := NewStructCache(columnSpec())
		_, err := c.Children(ctx, owner, table{Name: "a"})
		require.Error(t, err)
		assert.True(t, IsCanceled(err))
		_, err = c.AllChildren(ctx, owner)
		require.Error(t, err)
		assert.True(t, IsCanceled(err))
		assert.EqualValues(t, 0, owner.exec.opens.Load())
		assert.Equal(t, Empty, c.State())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("between rows", func(t *testing.T) {
		owner, mock := setupOwner(t)
		mock.ExpectQuery(q(tableColumns)).WithArgs("a").WillReturnRows(
			mock.NewRows(columnNames).AddRow("a", "id", 1),
		)
		mock.ExpectQuery(q(listTables)).WillReturnRows(tableRows(mock).AddRow("a", 1).AddRow("b", 2))
		mock.ExpectQuery(q(listColumns)).WillReturnRows(
			mock.NewRows(columnNames).AddRow("a", "id", 1).AddRow("a", "name", 2).AddRow("b", "id", 1),
		)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		var cancelOnRow atomic.Bool
		spec := columnSpec()
		fetch := spec.FetchChild
		spec.FetchChild = func(ctx context.Context, o *testOwner, t table, r *Row) (column, error) {
			if cancelOnRow.Load() {
				cancel()
			}
			return fetch(ctx, o, t, r)
		}
		c := NewStructCache(spec)
		a := table{Name: "a"}
		_, err := c.Children(ctx, owner, a)
		require.NoError(t, err)

		cancelOnRow.Store(true)
		_, err = c.AllChildren(ctx, owner)
		require.Error(t, err)
		assert.True(t, IsCanceled(err))

		kids, ok := c.CachedChildren(a)
		require.True(t, ok)
		assert.Equal(t, []column{{"a", "id", 1}}, kids)
		_, ok = c.CachedChildren(table{Name: "b"})
		assert.False(t, ok)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestStructCacheConcurrentPopulation(t *testing.T) {
	owner, mock := setupOwner(t)
	mock.ExpectQuery(q(listTables)).WillReturnRows(tableRows(mock).AddRow("a", 1).AddRow("b", 2))
	mock.ExpectQuery(q(listColumns)).
		WillDelayFor(50 * time.Millisecond).
		WillReturnRows(mock.NewRows(columnNames).AddRow("a", "id", 1).AddRow("b", "id", 1).AddRow("b", "total", 2))

	c := NewStructCache(columnSpec())
	const callers = 8
	results := make([][]column, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = c.AllChildren(context.Background(), owner)
		}()
	}
	wg.Wait()

	for i := range callers {
		require.NoError(t, errs[i])
		assert.Equal(t, []column{{"a", "id", 1}, {"b", "id", 1}, {"b", "total", 2}}, results[i])
	}
	assert.EqualValues(t, 2, owner.exec.opens.Load())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStructCacheConcurrentChildrenOfOneParent(t *testing.T) {
	owner, mock := setupOwner(t)
	mock.ExpectQuery(q(tableColumns)).WithArgs("a").
		WillDelayFor(50 * time.Millisecond).
		WillReturnRows(mock.NewRows(columnNames).AddRow("a", "id", 1))

	c := NewStructCache(columnSpec())
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			kids, err := c.Children(context.Background(), owner, table{Name: "a"})
			assert.NoError(t, err)
			assert.Len(t, kids, 1)
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, owner.exec.opens.Load())
	assert.NoError(t, mock.ExpectationsWereMet())
}
