package ports

import "context"

// ChunkStore durably stores one audio frame and returns its opaque key.
type ChunkStore interface {
	Put(ctx context.Context, userID, sessionID string, frame []byte) (string, error)
}
