package repository

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/docgen_server/internal/model"
	"github.com/qs3c/docgen_server/internal/testutil"
)

func TestRepositoryRepository_Create(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewRepositoryRepository(db)

	r := &model.Repository{
		OwnerID:      1,
		CanonicalURL: "github.com/owner/repo",
		DisplayName:  "repo",
		Host:         "github.com",
		FullName:     "owner/repo",
	}
	require.NoError(t, repo.Create(r))
	assert.NotZero(t, r.ID)

	t.Run("duplicate for same owner", func(t *testing.T) {
		dup := &model.Repository{OwnerID: 1, CanonicalURL: "github.com/owner/repo"}
		assert.ErrorIs(t, repo.Create(dup), ErrRepositoryExists)
	})

	t.Run("same url for another owner", func(t *testing.T) {
		other := &model.Repository{OwnerID: 2, CanonicalURL: "github.com/owner/repo"}
		assert.NoError(t, repo.Create(other))
	})
}

func TestRepositoryRepository_GetByOwnerAndURL(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewRepositoryRepository(db)
	created := testutil.TestRepository(t, db, 3, testutil.WithCanonicalURL("gitlab.com/a/b"))

	found, err := repo.GetByOwnerAndURL(3, "gitlab.com/a/b")
	require.NoError(t, err)
	assert.Equal(t, created.ID, found.ID)

	_, err = repo.GetByOwnerAndURL(4, "gitlab.com/a/b")
	assert.Error(t, err)
}

func TestRepositoryRepository_ListWebhookEnabledByURL(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewRepositoryRepository(db)
	enabled := testutil.TestRepository(t, db, 1,
		testutil.WithCanonicalURL("github.com/o/r"), testutil.WithWebhookKind(model.KindReadme))
	testutil.TestRepository(t, db, 2, testutil.WithCanonicalURL("github.com/o/r"))

	repos, err := repo.ListWebhookEnabledByURL("github.com/o/r")
	require.NoError(t, err)
	require.Len(t, repos, 1)
	assert.Equal(t, enabled.ID, repos[0].ID)

	require.NoError(t, repo.UpdateWebhookKind(enabled.ID, ""))
	repos, err = repo.ListWebhookEnabledByURL("github.com/o/r")
	require.NoError(t, err)
	assert.Empty(t, repos)
}

func TestRepositoryRepository_ListByOwner(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewRepositoryRepository(db)
	testutil.TestRepository(t, db, 1)
	testutil.TestRepository(t, db, 1)
	testutil.TestRepository(t, db, 2)

	repos, err := repo.ListByOwner(1)
	require.NoError(t, err)
	assert.Len(t, repos, 2)
}
