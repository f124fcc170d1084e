package repository

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"taskrunner/internal/model"
)

type ArtifactRef struct {
	Key      string
	Checksum string
	Size     int64
}

// ArtifactStore keeps uploaded task artifacts. Keys are content addressed so the
// same bytes always land on the same key.
type ArtifactStore interface {
	Save(ctx context.Context, fileName string, content []byte) (ArtifactRef, error)
	Open(ctx context.Context, key string) ([]byte, error)
}

type fileArtifactStore struct {
	root string
}

func NewFileArtifactStore(root string) (ArtifactStore, error) {
	if root == "" {
		root = "data/artifacts"
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	return &fileArtifactStore{root: root}, nil
}

func Checksum(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

func (s *fileArtifactStore) Save(ctx context.Context, fileName string, content []byte) (ArtifactRef, error) {
	if err := ctx.Err(); err != nil {
		return ArtifactRef{}, err
	}

	sum := Checksum(content)
	key := filepath.ToSlash(filepath.Join(sum[:2], sum))
	if ext := model.ArtifactExtension(fileName); ext != "" {
		key += "." + ext
	}
	ref := ArtifactRef{Key: key, Checksum: sum, Size: int64(len(content))}

	path := filepath.Join(s.root, filepath.FromSlash(key))
	if _, err := os.Stat(path); err == nil {
		return ref, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return ArtifactRef{}, fmt.Errorf("ensure artifact dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "upload-*")
	if err != nil {
		return ArtifactRef{}, fmt.Errorf("create temp artifact: %w", err)
	}
	if _, err := tmp.Write(content); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return ArtifactRef{}, fmt.Errorf("write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return ArtifactRef{}, fmt.Errorf("close artifact: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return ArtifactRef{}, fmt.Errorf("rename artifact: %w", err)
	}
	return ref, nil
}

func (s *fileArtifactStore) Open(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	clean := filepath.Clean(filepath.FromSlash(key))
	if key == "" || filepath.IsAbs(clean) || strings.HasPrefix(clean, "..") {
		return nil, fmt.Errorf("invalid artifact key %q", key)
	}

	content, err := os.ReadFile(filepath.Join(s.root, clean))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("artifact %s: %w", key, model.ErrNotFound)
		}
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	return content, nil
}
