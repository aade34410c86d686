package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskdesk/taskdesk/pkg/cerr"
)

func stubGenerateID(t *testing.T, ids ...string) {
	t.Helper()
	orig := generateID
	i := 0
	generateID = func() string {
		id := ids[i%len(ids)]
		if i < len(ids)-1 {
			i++
		}
		return id
	}
	t.Cleanup(func() { generateID = orig })
}

func TestNewIDRegeneratesOnPrefixCollision(t *testing.T) {
	existing := []*Task{
		{ID: "11111111-aaaa-4000-8000-000000000000"},
	}
	stubGenerateID(t,
		"11111111-bbbb-4000-8000-000000000000",
		"22222222-bbbb-4000-8000-000000000000",
	)

	id, err := newID(existing)
	require.NoError(t, err)
	assert.Equal(t, "22222222-bbbb-4000-8000-000000000000", id)
}

func TestNewIDGivesUpAfterRepeatedCollisions(t *testing.T) {
	existing := []*Task{
		{ID: "11111111-aaaa-4000-8000-000000000000"},
	}
	stubGenerateID(t, "11111111-cccc-4000-8000-000000000000")

	_, err := newID(existing)
	require.Error(t, err)
	assert.Equal(t, cerr.Internal, cerr.CodeOf(err))
}

func TestResolveRefAmbiguousPrefix(t *testing.T) {
	tasks := []*Task{
		{ID: "abcdef12-0001-4000-8000-000000000000"},
		{ID: "abcdef12-0002-4000-8000-000000000000"},
	}

	_, err := resolveRef(tasks, "abcdef12")
	require.Error(t, err)
	assert.Equal(t, cerr.FailedPrecondition, cerr.CodeOf(err))

	// An exact id still resolves despite the shared prefix.
	got, err := resolveRef(tasks, "abcdef12-0002-4000-8000-000000000000")
	require.NoError(t, err)
	assert.Equal(t, tasks[1].ID, got.ID)
}
