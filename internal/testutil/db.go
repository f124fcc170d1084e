// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"taskrunner/internal/model"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var dbSeq atomic.Int64

// NewDB opens an isolated in-memory SQLite database with the full schema.
// The pool is pinned to one connection, so concurrent transactions serialize
// the same way row locks serialize them on postgres.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared&_foreign_keys=1", name, dbSeq.Add(1))

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(
		&model.User{},
		&model.Task{},
		&model.TaskVersion{},
		&model.TaskExecution{},
	))
	return db
}

// SeedUser inserts a user with the given name.
func SeedUser(t *testing.T, db *gorm.DB, username string) *model.User {
	t.Helper()
	user := &model.User{Username: username}
	require.NoError(t, db.Create(user).Error)
	return user
}

// SeedTask inserts an active task owned by owner.
func SeedTask(t *testing.T, db *gorm.DB, owner *model.User, name string) *model.Task {
	t.Helper()
	task := &model.Task{Name: name, OwnerID: owner.ID, Status: model.TaskStatusActive}
	require.NoError(t, db.Create(task).Error)
	return task
}
