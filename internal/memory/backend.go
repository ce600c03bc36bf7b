package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned by a Backend that holds no state yet.
var ErrNotFound = errors.New("memory state not found")

// Backend persists one conversation's state as a single opaque blob.
// Save replaces the previous blob wholesale.
type Backend interface {
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, data []byte) error
}

// BackendFactory returns the Backend for a session identifier.
type BackendFactory func(sessionID string) Backend

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

const maxNamePrefix = 40

// SafeName maps a session identifier onto a file or key friendly name: a
// readable prefix plus a hash of the exact identifier, so identifiers that
// sanitize alike ("slack:U1", "slack_U1") still get distinct names.
func SafeName(sessionID string) string {
	prefix := unsafeName.ReplaceAllString(sessionID, "_")
	if len(prefix) > maxNamePrefix {
		prefix = prefix[:maxNamePrefix]
	}
	if prefix == "" {
		prefix = "session"
	}
	sum := sha256.Sum256([]byte(sessionID))
	return prefix + "-" + hex.EncodeToString(sum[:8])
}

// FileBackend stores state as a JSON file, written atomically via a
// temporary file and rename.
type FileBackend struct {
	Path string
}

// FileBackends stores each session under dir/<session>.json.
func FileBackends(dir string) BackendFactory {
	return func(sessionID string) Backend {
		return &FileBackend{Path: filepath.Join(dir, SafeName(sessionID)+".json")}
	}
}

func (f *FileBackend) Load(_ context.Context) ([]byte, error) {
	data, err := os.ReadFile(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.Path, err)
	}
	return data, nil
}

func (f *FileBackend) Save(_ context.Context, data []byte) error {
	dir := filepath.Dir(f.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create memory dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(f.Path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.Path); err != nil {
		return fmt.Errorf("replace %s: %w", f.Path, err)
	}
	return nil
}

// RedisBackend stores state under a single string key.
type RedisBackend struct {
	Client *redis.Client
	Key    string
}

// RedisBackends stores each session under <prefix><session>.
func RedisBackends(client *redis.Client, prefix string) BackendFactory {
	return func(sessionID string) Backend {
		return &RedisBackend{Client: client, Key: prefix + SafeName(sessionID)}
	}
}

func (r *RedisBackend) Load(ctx context.Context) ([]byte, error) {
	data, err := r.Client.Get(ctx, r.Key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", r.Key, err)
	}
	return data, nil
}

func (r *RedisBackend) Save(ctx context.Context, data []byte) error {
	if err := r.Client.Set(ctx, r.Key, data, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", r.Key, err)
	}
	return nil
}

// Delete removes the key, used when a session is dropped entirely.
func (r *RedisBackend) Delete(ctx context.Context) error {
	return r.Client.Del(ctx, r.Key).Err()
}
