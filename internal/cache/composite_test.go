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

var indexColumns = []string{"table_name", "index_name", "is_unique", "column_name"}

func TestCompositeCacheGroupsInterleavedRows(t *testing.T) {
	owner, mock := setupOwner(t)
	mock.ExpectQuery(q(listTables)).WillReturnRows(
		tableRows(mock).AddRow("a", 1).AddRow("b", 2).AddRow("c", 0),
	)
	mock.ExpectQuery(q(listIndexes)).WillReturnRows(
		mock.NewRows(indexColumns).
			AddRow("a", "pk_a", true, "id").
			AddRow("b", "ix_b", false, "x").
			AddRow("a", "ix_a", false, "name").
			AddRow("ghost", "ix_g", false, "x").
			AddRow("a", "pk_a", true, "tenant").
			AddRow("b", "", false, "y").
			AddRow("b", "ix_b", false, "y"),
	)

	obs := &recordingObserver{}
	tables := NewLookupCache(tableSpec())
	c := NewCompositeCache(tables, indexSpec(), WithObserver(obs))
	ctx := context.Background()

	all, err := c.All(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, []*index{
		{Table: "a", Name: "pk_a", Unique: true, Columns: []string{"id", "tenant"}},
		{Table: "a", Name: "ix_a", Columns: []string{"name"}},
		{Table: "b", Name: "ix_b", Columns: []string{"x", "y"}},
	}, all)
	assert.Len(t, obs.skipped, 2)
	assert.Equal(t, Full, c.State())

	objs, ok := c.CachedObjects(table{Name: "c"})
	require.True(t, ok)
	assert.Empty(t, objs)

	ix, ok, err := c.Object(ctx, owner, table{Name: "b"}, "ix_b")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"x", "y"}, ix.Columns)

	again, err := c.All(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, all, again)
	assert.EqualValues(t, 2, owner.exec.opens.Load())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCompositeCacheObjectsOfOneParent(t *testing.T) {
	owner, mock := setupOwner(t)
	mock.ExpectQuery(q(tableIndexes)).WithArgs("a").WillReturnRows(
		mock.NewRows(indexColumns).
			AddRow("a", "pk_a", true, "id").
			AddRow("a", "ix_a", false, nil),
	)

	tables := NewLookupCache(tableSpec())
	c := NewCompositeCache(tables, indexSpec())
	ctx := context.Background()

	objs, err := c.ObjectsOf(ctx, owner, table{Name: "a"})
	require.NoError(t, err)
	require.Len(t, objs, 2)
	assert.Equal(t, []string{"id"}, objs[0].Columns)
	assert.Empty(t, objs[1].Columns)
	assert.Equal(t, Partial, c.State())

	_, err = c.ObjectsOf(ctx, owner, table{Name: "a"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, owner.exec.opens.Load())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCompositeCacheMutations(t *testing.T) {
	owner, mock := setupOwner(t)
	mock.ExpectQuery(q(tableIndexes)).WithArgs("a").WillReturnRows(
		mock.NewRows(indexColumns).AddRow("a", "pk_a", true, "id"),
	)
	mock.ExpectQuery(q(tableIndexes)).WithArgs("a").WillReturnRows(
		mock.NewRows(indexColumns).AddRow("a", "pk_a", true, "id"),
	)

	tables := NewLookupCache(tableSpec())
	c := NewCompositeCache(tables, indexSpec())
	ctx := context.Background()
	a := table{Name: "a"}

	// parents that were never loaded are left alone
	c.CacheObject(a, &index{Table: "a", Name: "early"})
	assert.Empty(t, c.Cached())

	_, err := c.ObjectsOf(ctx, owner, a)
	require.NoError(t, err)

	c.CacheObject(a, &index{Table: "a", Name: "ix_new", Columns: []string{"x"}})
	objs, _ := c.CachedObjects(a)
	assert.Len(t, objs, 2)

	c.RemoveObject(a, &index{Name: "pk_a"})
	objs, _ = c.CachedObjects(a)
	require.Len(t, objs, 1)
	assert.Equal(t, "ix_new", objs[0].Name)

	c.ClearParent(a)
	_, ok := c.CachedObjects(a)
	assert.False(t, ok)
	assert.Equal(t, Empty, c.State())

	_, err = c.ObjectsOf(ctx, owner, a)
	require.NoError(t, err)
	c.Clear()
	assert.Empty(t, c.Cached())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCompositeCacheRemoveFromUnloadedParent(t *testing.T) {
	owner, mock := setupOwner(t)
	mock.ExpectQuery(q(tableIndexes)).WithArgs("a").WillReturnRows(
		mock.NewRows(indexColumns).AddRow("a", "pk_a", true, "id"),
	)

	c := NewCompositeCache(NewLookupCache(tableSpec()), indexSpec())
	a := table{Name: "a"}

	c.RemoveObject(a, &index{Name: "gone"})
	_, ok := c.CachedObjects(a)
	assert.False(t, ok)
	assert.Equal(t, Empty, c.State())

	objs, err := c.ObjectsOf(context.Background(), owner, a)
	require.NoError(t, err)
	require.Len(t, objs, 1)
	assert.Equal(t, "pk_a", objs[0].Name)
	assert.EqualValues(t, 1, owner.exec.opens.Load())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCompositeCacheSkipObjectDropsWholeGroup(t *testing.T) {
	owner, mock := setupOwner(t)
	mock.ExpectQuery(q(tableIndexes)).WithArgs("a").WillReturnRows(
		mock.NewRows(indexColumns).
			AddRow("a", "pk_a", true, "id").
			AddRow("a", "ix_bad", false, "name").
			AddRow("a", "ix_bad", false, "dropped").
			AddRow("a", "ix_bad", false, "tenant").
			AddRow("a", "ix_ok", false, "dropped").
			AddRow("a", "ix_ok", false, "name"),
	)

	spec := indexSpec()
	spec.FetchRow = func(_ context.Context, _ *testOwner, _ table, ix *index, r *Row) ([]string, error) {
		col := r.String("column_name")
		if col != "dropped" {
			return []string{col}, nil
		}
		if ix.Name == "ix_bad" {
			return nil, SkipObject("column %s of %s is gone", col, ix.Name)
		}
		return nil, Skip("column %s of %s is gone", col, ix.Name)
	}
	obs := &recordingObserver{}
	c := NewCompositeCache(NewLookupCache(tableSpec()), spec, WithObserver(obs))

	objs, err := c.ObjectsOf(context.Background(), owner, table{Name: "a"})
	require.NoError(t, err)
	assert.Equal(t, []*index{
		{Table: "a", Name: "pk_a", Unique: true, Columns: []string{"id"}},
		{Table: "a", Name: "ix_ok", Columns: []string{"name"}},
	}, objs)
	assert.Equal(t, []string{"column dropped of ix_bad is gone", "column dropped of ix_ok is gone"}, obs.skipped)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCompositeCacheCachedIsGroupedByParent(t *testing.T) {
	owner, mock := setupOwner(t)
	mock.ExpectQuery(q(tableIndexes)).WithArgs("b").WillReturnRows(
		mock.NewRows(indexColumns).AddRow("b", "pk_b", true, "id"),
	)
	mock.ExpectQuery(q(tableIndexes)).WithArgs("a").WillReturnRows(
		mock.NewRows(indexColumns).AddRow("a", "pk_a", true, "id").AddRow("a", "ix_a", false, "x"),
	)

	c := NewCompositeCache(NewLookupCache(tableSpec()), indexSpec())
	ctx := context.Background()
	_, err := c.ObjectsOf(ctx, owner, table{Name: "b"})
	require.NoError(t, err)
	_, err = c.ObjectsOf(ctx, owner, table{Name: "a"})
	require.NoError(t, err)

	for range 5 {
		var names []string
		for _, ix := range c.Cached() {
			names = append(names, ix.Name)
		}
		assert.Equal(t, []string{"pk_a", "ix_a", "pk_b"}, names)
	}
}

func TestCompositeCacheFailureLeavesCacheUntouched(t *testing.T) {
	owner, mock := setupOwner(t)
	mock.ExpectQuery(q(tableIndexes)).WithArgs("a").WillReturnRows(
		mock.NewRows(indexColumns).AddRow("a", "pk_a", true, "id"),
	)
	mock.ExpectQuery(q(listTables)).WillReturnRows(tableRows(mock).AddRow("a", 1).AddRow("b", 2))
	mock.ExpectQuery(q(listIndexes)).WillReturnError(errors.New("connection reset"))
	mock.ExpectQuery(q(listIndexes)).WillReturnRows(
		mock.NewRows(indexColumns).AddRow("a", "pk_a", true, "id").AddRow("b", "pk_b", true, "id"),
	)

	c := NewCompositeCache(NewLookupCache(tableSpec()), indexSpec())
	ctx := context.Background()
	a := table{Name: "a"}
	_, err := c.ObjectsOf(ctx, owner, a)
	require.NoError(t, err)

	_, err = c.All(ctx, owner)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load indexes")
	assert.False(t, IsCanceled(err))
	assert.Equal(t, Partial, c.State())
	objs, ok := c.CachedObjects(a)
	require.True(t, ok)
	assert.Len(t, objs, 1)
	_, ok = c.CachedObjects(table{Name: "b"})
	assert.False(t, ok)

	all, err := c.All(ctx, owner)
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Equal(t, Full, c.State())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCompositeCacheCancellation(t *testing.T) {
	t.Run("before population", func(t *testing.T) {
		owner, mock := setupOwner(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		c := NewCompositeCache(NewLookupCache(tableSpec()), indexSpec())
		_, err := c.ObjectsOf(ctx, owner, table{Name: "a"})
		require.Error(t, err)
		assert.True(t, IsCanceled(err))
		assert.EqualValues(t, 0, owner.exec.opens.Load())
		assert.Equal(t, Empty, c.State())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("between rows", func(t *testing.T) {
		owner, mock := setupOwner(t)
		mock.ExpectQuery(q(tableIndexes)).WithArgs("a").WillReturnRows(
			mock.NewRows(indexColumns).AddRow("a", "pk_a", true, "id"),
		)
		mock.ExpectQuery(q(listTables)).WillReturnRows(tableRows(mock).AddRow("a", 1).AddRow("b", 2))
		mock.ExpectQuery(q(listIndexes)).WillReturnRows(
			mock.NewRows(indexColumns).
				AddRow("a", "pk_a", true, "id").
				AddRow("a", "ix_a", false, "x").
				AddRow("b", "pk_b", true, "id"),
		)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		var cancelOnRow atomic.Bool
		spec := indexSpec()
		fetch := spec.FetchObject
		spec.FetchObject = func(ctx context.Context, o *testOwner, t table, name string, r *Row) (*index, error) {
			if cancelOnRow.Load() {
				cancel()
			}
			return fetch(ctx, o, t, name, r)
		}
		c := NewCompositeCache(NewLookupCache(tableSpec()), spec)
		a := table{Name: "a"}
		_, err := c.ObjectsOf(ctx, owner, a)
		require.NoError(t, err)

		cancelOnRow.Store(true)
		_, err = c.All(ctx, owner)
		require.Error(t, err)
		assert.True(t, IsCanceled(err))
		assert.Equal(t, Partial, c.State())
		objs, ok := c.CachedObjects(a)
		require.True(t, ok)
		assert.Equal(t, []*index{{Table: "a", Name: "pk_a", Unique: true, Columns: []string{"id"}}}, objs)
		_, ok = c.CachedObjects(table{Name: "b"})
		assert.False(t, ok)
	})
}

func TestCompositeCacheConcurrentPopulation(t *testing.T) {
	owner, mock := setupOwner(t)
	mock.ExpectQuery(q(listTables)).WillReturnRows(tableRows(mock).AddRow("a", 1).AddRow("b", 2))
	mock.ExpectQuery(q(listIndexes)).
		WillDelayFor(50 * time.Millisecond).
		WillReturnRows(mock.NewRows(indexColumns).AddRow("a", "pk_a", true, "id").AddRow("b", "pk_b", true, "id"))

	c := NewCompositeCache(NewLookupCache(tableSpec()), indexSpec())
	const callers = 8
	results := make([][]*index, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = c.All(context.Background(), owner)
		}()
	}
	wg.Wait()

	for i := range callers {
		require.NoError(t, errs[i])
		require.Len(t, results[i], 2)
		assert.Same(t, results[0][0], results[i][0])
	}
	assert.EqualValues(t, 2, owner.exec.opens.Load())
	assert.NoError(t, mock.ExpectationsWereMet())
}
