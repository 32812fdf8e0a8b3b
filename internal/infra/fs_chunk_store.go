package infra

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/Vovarama1992/voicejournal/internal/ports"
)

// FSChunkStore writes audio frames under a local root directory. Keys
// follow the blob layout audio/<userId>/<sessionId>/<timestamp>.pcm
// and are opaque to callers.
type FSChunkStore struct {
	root string
}

func NewFSChunkStore(root string) (*FSChunkStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("create audio root: %w", err)
	}
	return &FSChunkStore{root: root}, nil
}

var _ ports.ChunkStore = (*FSChunkStore)(nil)

func (s *FSChunkStore) Put(ctx context.Context, userID, sessionID string, frame []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	key := path.Join("audio", userID, sessionID, fmt.Sprintf("%d.pcm", time.Now().UnixNano()))

	full := filepath.Join(s.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return "", fmt.Errorf("create chunk dir: %w", err)
	}
	if err := os.WriteFile(full, frame, 0644); err != nil {
		return "", fmt.Errorf("write chunk: %w", err)
	}

	return key, nil
}

// Get returns the stored bytes for a key produced by Put.
func (s *FSChunkStore) Get(key string) ([]byte, error) {
	return os.ReadFile(filepath.Join(s.root, filepath.FromSlash(key)))
}
