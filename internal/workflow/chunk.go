package workflow

import (
	"context"
	"fmt"
	"sync"

	"github.com/kubev2v/sheet-filter/internal/dataset"
	"github.com/kubev2v/sheet-filter/internal/store"
)

// BlobStore makes encoded chunks reachable by URL for the workflow service.
type BlobStore interface {
	Put(ctx context.Context, name string, content []byte) (string, error)
}

// ChunkRunner binds a client, a blob store and the criteria of one job.
// Every attempt publishes a fresh blob for the chunk and runs the workflow on it.
type ChunkRunner struct {
	client   *Client
	blobs    BlobStore
	criteria string

	mu        sync.Mutex
	published []string
}

func NewChunkRunner(client *Client, blobs BlobStore, criteria string) *ChunkRunner {
	return &ChunkRunner{client: client, blobs: blobs, criteria: criteria}
}

func (r *ChunkRunner) ProcessChunk(ctx context.Context, chunk dataset.Chunk) (*ServiceResult, error) {
	content, err := dataset.Encode(&chunk.Rows)
	if err != nil {
		return nil, fmt.Errorf("encoding chunk %d: %w", chunk.ID, err)
	}

	name := store.UniqueName(fmt.Sprintf("chunk_%d", chunk.ID), "xlsx")
	url, err := r.blobs.Put(ctx, name, content)
	if err != nil {
		return nil, fmt.Errorf("publishing chunk %d: %w", chunk.ID, err)
	}

	r.mu.Lock()
	r.published = append(r.published, name)
	r.mu.Unlock()

	return r.client.Run(ctx, chunk.ID, url, r.criteria)
}

// Published returns the names of every blob created so far.
func (r *ChunkRunner) Published() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.published...)
}
