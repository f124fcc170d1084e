package repository

import (
	"context"
	"testing"

	"taskrunner/internal/model"
	"taskrunner/internal/testutil"
	"taskrunner/pkg/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionRepository_ArchiveSiblings(t *testing.T) {
	db := testutil.NewDB(t)
	repo := NewVersionRepository(db)
	ctx := context.Background()
	owner := testutil.SeedUser(t, db, "owner")
	task := testutil.SeedTask(t, db, owner, "etl")

	statuses := []model.VersionStatus{model.VersionStatusActive, model.VersionStatusDraft, model.VersionStatusArchived}
	var versions []*model.TaskVersion
	for i, status := range statuses {
		v := &model.TaskVersion{TaskID: task.ID, VersionNumber: i + 1, FileName: "a.py", ArtifactKey: "k", Checksum: "c", Status: status}
		require.NoError(t, repo.Create(ctx, v))
		versions = append(versions, v)
	}

	max, err := repo.MaxVersionNumber(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, max)

	target := versions[1]
	err = NewUnitOfWork(db).Run(ctx, func(opts ...utils.DBOption) error {
		archived, err := repo.ArchiveSiblings(ctx, task.ID, target.ID, opts...)
		if err != nil {
			return err
		}
		assert.EqualValues(t, 1, archived)
		return repo.UpdateStatus(ctx, target.ID, model.VersionStatusActive, opts...)
	})
	require.NoError(t, err)

	active, err := repo.FindActiveByTask(ctx, task.ID)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, target.ID, active.ID)

	list, err := repo.ListByTask(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, 3, list[0].VersionNumber)
	assert.Equal(t, model.VersionStatusArchived, list[2].Status)
}

func TestVersionRepository_NoActiveVersion(t *testing.T) {
	db := testutil.NewDB(t)
	repo := NewVersionRepository(db)
	owner := testutil.SeedUser(t, db, "owner")
	task := testutil.SeedTask(t, db, owner, "empty")

	active, err := repo.FindActiveByTask(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Nil(t, active)

	max, err := repo.MaxVersionNumber(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Zero(t, max)
}

func TestVersionRepository_DuplicateNumberRejected(t *testing.T) {
	db := testutil.NewDB(t)
	repo := NewVersionRepository(db)
	owner := testutil.SeedUser(t, db, "owner")
	task := testutil.SeedTask(t, db, owner, "dup")

	first := &model.TaskVersion{TaskID: task.ID, VersionNumber: 1, FileName: "a.py", ArtifactKey: "k", Checksum: "c"}
	require.NoError(t, repo.Create(context.Background(), first))
	second := &model.TaskVersion{TaskID: task.ID, VersionNumber: 1, FileName: "b.py", ArtifactKey: "k", Checksum: "c"}
	assert.Error(t, repo.Create(context.Background(), second))
}
