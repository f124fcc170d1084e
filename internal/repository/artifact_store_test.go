package repository

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"taskrunner/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileArtifactStore_SaveAndOpen(t *testing.T) {
	root := t.TempDir()
	store, err := NewFileArtifactStore(root)
	require.NoError(t, err)
	ctx := context.Background()

	content := []byte("print('hi')\n")
	ref, err := store.Save(ctx, "hello.py", content)
	require.NoError(t, err)
	assert.Equal(t, Checksum(content), ref.Checksum)
	assert.Len(t, ref.Checksum, 64)
	assert.EqualValues(t, len(content), ref.Size)
	assert.Equal(t, ref.Checksum[:2]+"/"+ref.Checksum+".py", ref.Key)

	again, err := store.Save(ctx, "renamed.py", content)
	require.NoError(t, err)
	assert.Equal(t, ref, again)

	got, err := store.Open(ctx, ref.Key)
	require.NoError(t, err)
	assert.Equal(t, content, got)

	_, err = os.Stat(filepath.Join(root, filepath.FromSlash(ref.Key)))
	assert.NoError(t, err)
}

func TestFileArtifactStore_Open(t *testing.T) {
	store, err := NewFileArtifactStore(t.TempDir())
	require.NoError(t, err)

	tests := []struct {
		name    string
		key     string
		wantErr error
	}{
		{name: "missing key", key: "ff/ffff.py", wantErr: model.ErrNotFound},
		{name: "escaping key", key: "../secret"},
		{name: "absolute key", key: "/etc/passwd"},
		{name: "empty key", key: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.Open(context.Background(), tt.key)
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestChecksum(t *testing.T) {
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", Checksum(nil))
	assert.NotEqual(t, Checksum([]byte("a")), Checksum([]byte("b")))
}
