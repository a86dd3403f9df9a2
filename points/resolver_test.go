package points

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/kwv/tapmesh/mesh"
)

// ---------------------------------------------------------------------------
// mockStore
// ---------------------------------------------------------------------------

type mockStore struct {
	mock.Mock
}

func (m *mockStore) FindNear(pos mesh.Point, threshold float64) (Point, bool, error) {
	args := m.Called(pos, threshold)
	return args.Get(0).(Point), args.Bool(1), args.Error(2)
}

func (m *mockStore) Create(pos mesh.Point, roles []Role, locked bool) (string, error) {
	args := m.Called(pos, roles, locked)
	return args.String(0), args.Error(1)
}

func (m *mockStore) AddRole(id string, role Role) error {
	return m.Called(id, role).Error(0)
}

func (m *mockStore) CommitBatch(batch []Point) error {
	return m.Called(batch).Error(0)
}

func (m *mockStore) Get(id string) (Point, error) {
	args := m.Called(id)
	return args.Get(0).(Point), args.Error(1)
}

func (m *mockStore) All() ([]Point, error) {
	args := m.Called()
	return args.Get(0).([]Point), args.Error(1)
}

// ---------------------------------------------------------------------------
// Resolve
// ---------------------------------------------------------------------------

func TestResolveDedupWithinBatch(t *testing.T) {
	r := NewResolver(NewMemoryStore(), 5)

	a, err := r.Resolve(mesh.Point{X: 100, Y: 100})
	require.NoError(t, err)
	b, err := r.Resolve(mesh.Point{X: 101, Y: 101})
	require.NoError(t, err)
	c, err := r.Resolve(mesh.Point{X: 200, Y: 200})
	require.NoError(t, err)

	assert.Equal(t, a, b, "points within threshold should share an id")
	assert.NotEqual(t, a, c, "points beyond threshold should not share an id")
	assert.Equal(t, 2, r.PendingCount())
	assert.Equal(t, 3, r.ResolvedCount())
	assert.Equal(t, ResolveStats{Created: 2, ReusedInBatch: 1}, r.Stats())
}

func TestResolveQuantizedCacheHit(t *testing.T) {
	r := NewResolver(NewMemoryStore(), 0.1)

	a, err := r.Resolve(mesh.Point{X: 10.2, Y: 19.8})
	require.NoError(t, err)
	// Farther apart than the threshold but rounds to the same pixel.
	b, err := r.Resolve(mesh.Point{X: 9.6, Y: 20.4})
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Equal(t, 1, r.PendingCount())
}

func TestResolveAcrossCommittedBatches(t *testing.T) {
	store := NewMemoryStore()
	r := NewResolver(store, 5)

	first, err := r.Resolve(mesh.Point{X: 50, Y: 50}, RoleMeshVertex)
	require.NoError(t, err)
	n, err := r.Commit()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 0, r.PendingCount())
	assert.Equal(t, 0, r.ResolvedCount())

	again, err := r.Resolve(mesh.Point{X: 52, Y: 51}, RoleAnchor)
	require.NoError(t, err)
	assert.Equal(t, first, again)
	assert.Equal(t, 0, r.PendingCount())
	assert.Equal(t, 1, r.Stats().ReusedFromStore)

	p, err := store.Get(first)
	require.NoError(t, err)
	assert.Equal(t, []Role{RoleAnchor, RoleMeshVertex}, p.Roles)
	assert.True(t, p.Locked)

	moved, err := r.Resolve(mesh.Point{X: 60, Y: 60})
	require.NoError(t, err)
	assert.NotEqual(t, first, moved)
}

func TestResolveDefaultRole(t *testing.T) {
	r := NewResolver(NewMemoryStore(), 5)
	_, err := r.Resolve(mesh.Point{X: 1, Y: 1})
	require.NoError(t, err)

	pending := r.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, []Role{RoleZoneCorner}, pending[0].Roles)
}

func TestResolveUnlocked(t *testing.T) {
	store := NewMemoryStore()
	r := NewResolver(store, 5)

	vertex, err := r.Resolve(mesh.Point{X: 0, Y: 0}, RoleMeshVertex)
	require.NoError(t, err)
	placed, err := r.ResolveUnlocked(mesh.Point{X: 50, Y: 50}, RoleSurveyMarker)
	require.NoError(t, err)
	_, err = r.Commit()
	require.NoError(t, err)

	p, err := store.Get(placed)
	require.NoError(t, err)
	assert.False(t, p.Locked, "manually placed points are not locked")

	// Placing onto an existing locked point reuses it unchanged.
	again, err := r.ResolveUnlocked(mesh.Point{X: 1, Y: 1}, RoleAnchor)
	require.NoError(t, err)
	assert.Equal(t, vertex, again)
	v, err := store.Get(vertex)
	require.NoError(t, err)
	assert.True(t, v.Locked)
	assert.True(t, v.HasRole(RoleAnchor))
}

func TestResolvePosition(t *testing.T) {
	store := NewMemoryStore()
	stored, err := store.Create(mesh.Point{X: 100, Y: 0}, []Role{RoleMeshVertex}, true)
	require.NoError(t, err)

	r := NewResolver(store, 5)
	ids, err := r.ResolveAll([]mesh.Point{{X: 103, Y: 0}, {X: 0, Y: 100}, {X: 2, Y: 99}})
	require.NoError(t, err)
	assert.Equal(t, stored, ids[0])
	assert.Equal(t, ids[1], ids[2])

	pos, ok := r.Position(ids[0])
	require.True(t, ok)
	assert.Equal(t, mesh.Point{X: 100, Y: 0}, pos, "store position, not the raw input")

	pos, ok = r.Position(ids[2])
	require.True(t, ok)
	assert.Equal(t, mesh.Point{X: 0, Y: 100}, pos, "first position in the batch wins")

	_, ok = r.Position("unknown")
	assert.False(t, ok)

	r.Rollback()
	_, ok = r.Position(ids[1])
	assert.False(t, ok)
}

func TestResolveAll(t *testing.T) {
	r := NewResolverMeters(NewMemoryStore(), 0.5, 10)
	assert.Equal(t, 5.0, r.Threshold())

	ids, err := r.ResolveAll([]mesh.Point{{X: 0, Y: 0}, {X: 100, Y: 0}, {X: 2, Y: 2}, {X: 100, Y: 100}})
	require.NoError(t, err)
	require.Len(t, ids, 4)
	assert.Equal(t, ids[0], ids[2])
	assert.Equal(t, 3, r.PendingCount())
}

func TestRollbackDiscardsBatch(t *testing.T) {
	store := NewMemoryStore()
	r := NewResolver(store, 5)

	first, err := r.Resolve(mesh.Point{X: 10, Y: 10})
	require.NoError(t, err)
	r.Rollback()

	assert.Equal(t, 0, r.PendingCount())
	assert.Equal(t, 0, store.Len())

	second, err := r.Resolve(mesh.Point{X: 10, Y: 10})
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestCommitEmptyBatch(t *testing.T) {
	store := new(mockStore)
	r := NewResolver(store, 5)

	n, err := r.Commit()
	require.NoError(t, err)
	assert.Zero(t, n)
	store.AssertNotCalled(t, "CommitBatch", mock.Anything)
}

func TestCommitFailureKeepsBatch(t *testing.T) {
	store := new(mockStore)
	store.On("FindNear", mock.Anything, 5.0).Return(Point{}, false, nil)
	store.On("CommitBatch", mock.Anything).Return(errors.New("disk full")).Once()
	store.On("CommitBatch", mock.Anything).Return(nil).Once()

	r := NewResolver(store, 5)
	id, err := r.Resolve(mesh.Point{X: 1, Y: 1})
	require.NoError(t, err)

	_, err = r.Commit()
	require.Error(t, err)
	assert.Equal(t, 1, r.PendingCount())

	// The cache still answers for the pending point.
	again, err := r.Resolve(mesh.Point{X: 1, Y: 1})
	require.NoError(t, err)
	assert.Equal(t, id, again)

	n, err := r.Commit()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	store.AssertExpectations(t)
}

func TestResolveStoreErrors(t *testing.T) {
	t.Run("find fails", func(t *testing.T) {
		store := new(mockStore)
		store.On("FindNear", mock.Anything, mock.Anything).Return(Point{}, false, errors.New("io"))

		r := NewResolver(store, 5)
		_, err := r.Resolve(mesh.Point{X: 1, Y: 1})
		require.Error(t, err)
		assert.Equal(t, 0, r.PendingCount())
		assert.Equal(t, 0, r.ResolvedCount())
	})

	t.Run("add role fails", func(t *testing.T) {
		store := new(mockStore)
		store.On("FindNear", mock.Anything, mock.Anything).Return(Point{ID: "p1"}, true, nil)
		store.On("AddRole", "p1", RoleAnchor).Return(ErrPointNotFound)

		r := NewResolver(store, 5)
		_, err := r.Resolve(mesh.Point{X: 1, Y: 1}, RoleAnchor)
		require.ErrorIs(t, err, ErrPointNotFound)
		assert.Equal(t, 0, r.ResolvedCount())
	})
}

func TestPointRoles(t *testing.T) {
	p := NewPoint(mesh.Point{}, []Role{RoleZoneCorner, RoleAnchor, RoleZoneCorner}, false)
	assert.Equal(t, []Role{RoleAnchor, RoleZoneCorner}, p.Roles)
	assert.True(t, p.HasRole(RoleAnchor))
	assert.False(t, p.HasRole(RoleMeshVertex))
	assert.True(t, p.AddRole(RoleMeshVertex))
	assert.False(t, p.AddRole(RoleMeshVertex))
	assert.Equal(t, []Role{RoleAnchor, RoleMeshVertex, RoleZoneCorner}, p.Roles)
	assert.NotEmpty(t, p.ID)
}
