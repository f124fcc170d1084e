package service

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"testing"

	"taskrunner/config"
	"taskrunner/internal/model"
	"taskrunner/pkg/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func countVersions(t *testing.T, f *fixture) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(&model.TaskVersion{}).Where("task_id = ?", f.task.ID).Count(&n).Error)
	return n
}

func activeVersions(t *testing.T, f *fixture) []model.TaskVersion {
	t.Helper()
	var active []model.TaskVersion
	require.NoError(t, f.db.Where("task_id = ? AND status = ?", f.task.ID, model.VersionStatusActive).Find(&active).Error)
	return active
}

func TestVersionService_CreateValidation(t *testing.T) {
	tests := []struct {
		name     string
		fileName string
		content  []byte
		status   model.VersionStatus
		field    string
	}{
		{name: "missing file", fileName: "", content: nil, field: "file"},
		{name: "text file", fileName: "notes.txt", content: []byte("hello"), field: "file"},
		{name: "upper case extension", fileName: "JOB.PY", content: []byte("print(1)"), field: "file"},
		{name: "oversized artifact", fileName: "big.py", content: bytes.Repeat([]byte("a"), config.DefaultMaxArtifactSize+1), field: "file"},
		{name: "unknown status", fileName: "job.py", content: []byte("print(1)"), status: "published", field: "status"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.versions().Create(context.Background(), CreateVersionParam{
				TaskID:   f.task.ID,
				FileName: tt.fileName,
				Content:  tt.content,
				Status:   tt.status,
			})
			require.ErrorIs(t, err, model.ErrValidation)

			var verr *model.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
			assert.Zero(t, countVersions(t, f))
		})
	}
}

func TestVersionService_CreateAtSizeLimit(t *testing.T) {
	f := newFixture(t)
	content := bytes.Repeat([]byte("#"), config.DefaultMaxArtifactSize)

	v, err := f.versions().Create(context.Background(), CreateVersionParam{TaskID: f.task.ID, FileName: "edge.py", Content: content})
	require.NoError(t, err)
	assert.EqualValues(t, config.DefaultMaxArtifactSize, v.FileSize)
}

func TestVersionService_CreateUnknownTask(t *testing.T) {
	f := newFixture(t)
	_, err := f.versions().Create(context.Background(), CreateVersionParam{TaskID: 999, FileName: "a.py", Content: []byte("x")})
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestVersionService_CreateNumbersAndChecksums(t *testing.T) {
	f := newFixture(t)
	content := "import numpy as np\nfrom pandas import DataFrame\nimport os\n"

	v1 := f.createVersion(t, "job.py", content, "")
	v2 := f.createVersion(t, "job.py", content, "")
	v3 := f.createVersion(t, "report.ipynb", `{"nbformat": 4, "cells": []}`, "")

	assert.Equal(t, 1, v1.VersionNumber)
	assert.Equal(t, 2, v2.VersionNumber)
	assert.Equal(t, 3, v3.VersionNumber)
	assert.Equal(t, model.VersionStatusDraft, v1.Status)

	assert.Len(t, v1.Checksum, 64)
	assert.Equal(t, v1.Checksum, v2.Checksum)
	assert.NotEqual(t, v1.Checksum, v3.Checksum)
	assert.EqualValues(t, len(content), v1.FileSize)

	assert.Equal(t, "numpy\npandas\nos", v1.Requirements)
	assert.Empty(t, v3.Requirements)
}

func TestVersionService_ExplicitRequirementsWin(t *testing.T) {
	f := newFixture(t)
	reqs := "requests==2.31.0"

	v, err := f.versions().Create(context.Background(), CreateVersionParam{
		TaskID:       f.task.ID,
		FileName:     "job.py",
		Content:      []byte("import numpy\n"),
		Requirements: &reqs,
	})
	require.NoError(t, err)
	assert.Equal(t, reqs, v.Requirements)
}

func TestVersionService_UnparseableScriptGetsEmptyManifest(t *testing.T) {
	f := newFixture(t)
	v := f.createVersion(t, "broken.py", "import os\nprint('unterminated\n", "")
	assert.Empty(t, v.Requirements)
}

func TestVersionService_CreateActiveArchivesSiblings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.repo.TaskRepo.UpdateLastRun(ctx, f.task.ID, utils.ToPointer(utils.TimeNow())))

	draft := f.createVersion(t, "draft.py", "print('draft')", model.VersionStatusDraft)
	v1 := f.createVersion(t, "v1.py", "print(1)", model.VersionStatusActive)
	assert.Nil(t, f.reloadTask(t).LastRun)

	v2 := f.createVersion(t, "v2.py", "print(2)", model.VersionStatusActive)

	active, err := f.versions().GetActiveVersion(ctx, f.task.ID)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, v2.ID, active.ID)

	for _, id := range []uint{draft.ID, v1.ID} {
		v, err := f.repo.VersionRepo.FindByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, model.VersionStatusArchived, v.Status)
	}
	assert.Len(t, activeVersions(t, f), 1)
}

func TestVersionService_Activate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc := f.versions()

	v1 := f.createVersion(t, "v1.py", "print(1)", model.VersionStatusActive)
	v2 := f.createVersion(t, "v2.py", "print(2)", model.VersionStatusDraft)

	activated, err := svc.Activate(ctx, v2.ID)
	require.NoError(t, err)
	assert.Equal(t, model.VersionStatusActive, activated.Status)

	old, err := svc.Get(ctx, v1.ID)
	require.NoError(t, err)
	assert.Equal(t, model.VersionStatusArchived, old.Status)

	again, err := svc.Activate(ctx, v2.ID)
	require.NoError(t, err)
	assert.Equal(t, model.VersionStatusActive, again.Status)
	assert.Len(t, activeVersions(t, f), 1)

	rolledBack, err := svc.Activate(ctx, v1.ID)
	require.NoError(t, err)
	assert.Equal(t, v1.ID, rolledBack.ID)
	active := activeVersions(t, f)
	require.Len(t, active, 1)
	assert.Equal(t, v1.ID, active[0].ID)

	_, err = svc.Activate(ctx, 12345)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestVersionService_ConcurrentActivationKeepsOneActive(t *testing.T) {
	f := newFixture(t)
	svc := f.versions()

	var ids []uint
	for i := 0; i < 6; i++ {
		ids = append(ids, f.createVersion(t, "job.py", "print(1)", model.VersionStatusDraft).ID)
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id uint) {
			defer wg.Done()
			_, err := svc.Activate(context.Background(), id)
			assert.NoError(t, err)
		}(id)
	}
	wg.Wait()

	active := activeVersions(t, f)
	require.Len(t, active, 1)
	assert.Contains(t, ids, active[0].ID)
}

func TestVersionService_ConcurrentCreateNumbersAreUnique(t *testing.T) {
	f := newFixture(t)
	svc := f.versions()

	const n = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		numbers []int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			status := model.VersionStatusDraft
			if i%2 == 0 {
				status = model.VersionStatusActive
			}
			v, err := svc.Create(context.Background(), CreateVersionParam{
				TaskID:   f.task.ID,
				FileName: "job.py",
				Content:  []byte("print(1)"),
				Status:   status,
			})
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			numbers = append(numbers, v.VersionNumber)
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	sort.Ints(numbers)
	want := make([]int, n)
	for i := range want {
		want[i] = i + 1
	}
	assert.Equal(t, want, numbers)
	assert.Len(t, activeVersions(t, f), 1)
}

func TestVersionService_List(t *testing.T) {
	f := newFixture(t)
	f.createVersion(t, "a.py", "print(1)", "")
	f.createVersion(t, "b.py", "print(2)", "")

	list, err := f.versions().List(context.Background(), f.task.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, 2, list[0].VersionNumber)
	assert.Equal(t, 1, list[1].VersionNumber)

	_, err = f.versions().List(context.Background(), 404)
	assert.ErrorIs(t, err, model.ErrNotFound)
}
