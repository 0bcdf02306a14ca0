package registry

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSession(t *testing.T, r *Registry, name string) *Session {
	t.Helper()
	s, err := r.CreateSession(name, "/bin/sh", nil, os.Environ(), 80, 24)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.DestroySession(ByID(s.ID)) })
	return s
}

func TestCreateSessionAssignsMonotonicNeverReusedIDs(t *testing.T) {
	r := New()
	a := newTestSession(t, r, "a")
	b := newTestSession(t, r, "b")
	assert.Less(t, a.ID, b.ID)

	require.NoError(t, r.DestroySession(ByID(a.ID)))
	c, err := r.CreateSession("c", "/bin/sh", nil, os.Environ(), 80, 24)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.DestroySession(ByID(c.ID)) })

	assert.NotEqual(t, a.ID, c.ID, "destroyed session id must not be reused")
	assert.Greater(t, c.ID, b.ID)
}

func TestCreateSessionRejectsDuplicateName(t *testing.T) {
	r := New()
	newTestSession(t, r, "dup")
	_, err := r.CreateSession("dup", "/bin/sh", nil, os.Environ(), 80, 24)
	require.Error(t, err)
	var nameErr *NameInUseError
	assert.ErrorAs(t, err, &nameErr)
}

func TestFindByIDAndByNameAgree(t *testing.T) {
	r := New()
	s := newTestSession(t, r, "main")

	byID, err := r.Find(ByID(s.ID))
	require.NoError(t, err)
	byName, err := r.Find(ByName("main"))
	require.NoError(t, err)
	assert.Same(t, byID, byName)
}

func TestFindNotFound(t *testing.T) {
	r := New()
	_, err := r.Find(ByID(999))
	require.Error(t, err)
	var notFound *NotFoundError
	assert.ErrorAs(t, err, &notFound)

	_, err = r.Find(ByName("nope"))
	require.Error(t, err)
	assert.ErrorAs(t, err, &notFound)
}

func TestDestroySessionRemovesBothIndices(t *testing.T) {
	r := New()
	s, err := r.CreateSession("gone", "/bin/sh", nil, os.Environ(), 80, 24)
	require.NoError(t, err)

	require.NoError(t, r.DestroySession(ByID(s.ID)))

	_, err = r.Find(ByID(s.ID))
	assert.Error(t, err)
	_, err = r.Find(ByName("gone"))
	assert.Error(t, err)
}

func TestDestroyPaneRejectsLastPane(t *testing.T) {
	r := New()
	s := newTestSession(t, r, "solo")
	err := r.DestroyPane(s.ID, s.ActivePaneID)
	require.Error(t, err)
}

func TestDestroyPanePromotesLowestRemainingID(t *testing.T) {
	r := New()
	s := newTestSession(t, r, "multi")

	p2, err := r.CreatePane(ByID(s.ID), "/bin/sh", nil, os.Environ(), 80, 24)
	require.NoError(t, err)
	p3, err := r.CreatePane(ByID(s.ID), "/bin/sh", nil, os.Environ(), 80, 24)
	require.NoError(t, err)

	require.NoError(t, r.DestroyPane(s.ID, s.ActivePaneID))

	got, err := r.Find(ByID(s.ID))
	require.NoError(t, err)

	remaining := []uint32{p2.ID, p3.ID}
	lowest := remaining[0]
	if remaining[1] < lowest {
		lowest = remaining[1]
	}
	assert.Equal(t, lowest, got.ActivePaneID)
}

func TestAttachDetachNoOpOnNonMember(t *testing.T) {
	r := New()
	s := newTestSession(t, r, "solo2")

	require.NoError(t, r.Detach(ByID(s.ID), 42)) // never attached, still a no-op

	require.NoError(t, r.Attach(ByID(s.ID), 1))
	attached, err := r.Attached(ByID(s.ID))
	require.NoError(t, err)
	assert.Contains(t, attached, uint64(1))

	require.NoError(t, r.Detach(ByID(s.ID), 1))
	attached, err = r.Attached(ByID(s.ID))
	require.NoError(t, err)
	assert.NotContains(t, attached, uint64(1))
}

func TestListSortedByID(t *testing.T) {
	r := New()
	c := newTestSession(t, r, "c")
	a := newTestSession(t, r, "a")
	b := newTestSession(t, r, "b")

	list := r.List()
	require.Len(t, list, 3)
	assert.True(t, list[0].ID < list[1].ID)
	assert.True(t, list[1].ID < list[2].ID)
	assert.ElementsMatch(t,
		[]uint32{a.ID, b.ID, c.ID},
		[]uint32{list[0].ID, list[1].ID, list[2].ID})
}

func TestNamesReflectsCurrentSessions(t *testing.T) {
	r := New()
	newTestSession(t, r, "one")
	newTestSession(t, r, "two")

	names := r.Names()
	assert.Contains(t, names, "one")
	assert.Contains(t, names, "two")
	assert.Len(t, names, 2)
}
