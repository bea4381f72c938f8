package entity

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveCreatesOnce(t *testing.T) {
	r := NewResolver(MemoryStore(), 0)
	ctx := context.Background()
	now := time.Now().UTC()

	id1, err := r.Resolve(ctx, "C:", 42, `C:\Users\alice\a.txt`, now)
	require.NoError(t, err)
	require.NotEmpty(t, id1)

	id2, err := r.Resolve(ctx, "C:", 42, `C:\Users\alice\a.txt`, now.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	other, err := r.Resolve(ctx, "C:", 43, `C:\Users\alice\b.txt`, now)
	require.NoError(t, err)
	assert.NotEqual(t, id1, other)

	// Same reference number on another volume is a different file.
	otherVol, err := r.Resolve(ctx, "D:", 42, `D:\a.txt`, now)
	require.NoError(t, err)
	assert.NotEqual(t, id1, otherVol)
}

func TestRenameKeepsIdentity(t *testing.T) {
	store := MemoryStore()
	r := NewResolver(store, 0)
	ctx := context.Background()
	now := time.Now().UTC()

	id, err := r.Resolve(ctx, "C:", 42, `C:\Users\alice\draft.txt`, now)
	require.NoError(t, err)

	renamed, err := r.Rename(ctx, "C:", 42, `C:\Users\alice\draft.txt`, `C:\Users\alice\final.txt`, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, id, renamed)

	e, err := store.GetEntityByRef(ctx, "C:", 42)
	require.NoError(t, err)
	assert.Equal(t, `C:\Users\alice\final.txt`, e.Path)
	require.Len(t, e.PriorPaths, 1)
	assert.Equal(t, `C:\Users\alice\draft.txt`, e.PriorPaths[0].Path)
	assert.True(t, e.PriorPaths[0].To.Equal(now.Add(time.Minute)))
}

func TestRenameSurvivesRestart(t *testing.T) {
	store := MemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	r := NewResolver(store, 0)
	id, err := r.Resolve(ctx, "C:", 42, `C:\a.txt`, now)
	require.NoError(t, err)

	// Fresh resolver over the same store, as after a restart.
	r2 := NewResolver(store, 0)
	id2, err := r2.Resolve(ctx, "C:", 42, `C:\a.txt`, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, id, id2)
}

func TestProbableRenameWithinWindow(t *testing.T) {
	r := NewResolver(MemoryStore(), 30*time.Second)
	ctx := context.Background()
	now := time.Now().UTC()

	oldID, err := r.Resolve(ctx, "C:", 42, `C:\Users\alice\report.docx`, now)
	require.NoError(t, err)
	r.NoteOldName("C:", 42, `C:\Users\alice\report.docx`, now)

	// Hardlink churn gives the NEW half a fresh reference number.
	newID, probable, err := r.ResolveNewName(ctx, "C:", 99, `C:\Users\alice\archive\report.docx`, now.Add(10*time.Second))
	require.NoError(t, err)
	assert.NotEqual(t, oldID, newID)
	assert.Equal(t, oldID, probable)

	// The pending OLD is consumed; a second NEW gets no link.
	_, probable, err = r.ResolveNewName(ctx, "C:", 100, `C:\other\report.docx`, now.Add(15*time.Second))
	require.NoError(t, err)
	assert.Empty(t, probable)
}

func TestProbableRenameWindowExpires(t *testing.T) {
	r := NewResolver(MemoryStore(), 30*time.Second)
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := r.Resolve(ctx, "C:", 42, `C:\report.docx`, now)
	require.NoError(t, err)
	r.NoteOldName("C:", 42, `C:\report.docx`, now)

	_, probable, err := r.ResolveNewName(ctx, "C:", 99, `C:\elsewhere\report.docx`, now.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Empty(t, probable)
}

func TestProbableRenameBasenameMismatch(t *testing.T) {
	r := NewResolver(MemoryStore(), 30*time.Second)
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := r.Resolve(ctx, "C:", 42, `C:\report.docx`, now)
	require.NoError(t, err)
	r.NoteOldName("C:", 42, `C:\report.docx`, now)

	_, probable, err := r.ResolveNewName(ctx, "C:", 99, `C:\summary.docx`, now.Add(time.Second))
	require.NoError(t, err)
	assert.Empty(t, probable)
}

func TestResetStateKeepsDurableIdentity(t *testing.T) {
	store := MemoryStore()
	r := NewResolver(store, 0)
	ctx := context.Background()
	now := time.Now().UTC()

	id, err := r.Resolve(ctx, "C:", 42, `C:\a.txt`, now)
	require.NoError(t, err)
	r.NoteOldName("C:", 42, `C:\a.txt`, now)

	r.ResetState()

	// Pending window is gone.
	_, probable, err := r.ResolveNewName(ctx, "C:", 99, `C:\b\a.txt`, now.Add(time.Second))
	require.NoError(t, err)
	assert.Empty(t, probable)

	// Durable identity is not.
	id2, err := r.Resolve(ctx, "C:", 42, `C:\a.txt`, now.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, id, id2)
}
