// Package memory persists agent results as embedded documents so later
// workflows and the web UI can recall similar prior work.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	chromem "github.com/philippgille/chromem-go"
)

const collectionName = "agent_memory"

// listProbe drives List through the query path; chromem has no
// enumeration API, so listing asks for every document instead.
const listProbe = "agent workflow result"

// Record is a single stored memory with its retrieval score.
type Record struct {
	ID         string            `json:"id"`
	Text       string            `json:"text"`
	Metadata   map[string]string `json:"metadata"`
	Similarity float32           `json:"similarity,omitempty"`
}

// Embedder turns text into a vector. Implementations must be safe for
// concurrent use.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Store is a persistent vector store over a single collection. The
// underlying database is opened lazily on first use.
type Store struct {
	path     string
	embedder Embedder

	mu  sync.Mutex
	db  *chromem.DB
	col *chromem.Collection
}

// NewStore returns a store rooted at path. The database is not opened
// until the first operation.
func NewStore(path string, embedder Embedder) *Store {
	return &Store{path: path, embedder: embedder}
}

func (s *Store) embedFunc() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return s.embedder.Embed(ctx, text)
	}
}

// collection opens the database and collection on first call.
func (s *Store) collection() (*chromem.Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.collectionLocked()
}

func (s *Store) collectionLocked() (*chromem.Collection, error) {
	if s.col != nil {
		return s.col, nil
	}
	if s.db == nil {
		db, err := chromem.NewPersistentDB(s.path, false)
		if err != nil {
			return nil, fmt.Errorf("opening memory db at %s: %w", s.path, err)
		}
		s.db = db
	}
	col, err := s.db.GetOrCreateCollection(collectionName, nil, s.embedFunc())
	if err != nil {
		return nil, fmt.Errorf("opening collection %s: %w", collectionName, err)
	}
	s.col = col
	return s.col, nil
}

// Add stores text under id, replacing any document with the same id.
func (s *Store) Add(ctx context.Context, text string, metadata map[string]any, id string) error {
	col, err := s.collection()
	if err != nil {
		return err
	}
	doc := chromem.Document{
		ID:       id,
		Content:  text,
		Metadata: stringifyMetadata(metadata),
	}
	if err := col.AddDocuments(ctx, []chromem.Document{doc}, 1); err != nil {
		return fmt.Errorf("adding memory %s: %w", id, err)
	}
	return nil
}

// Query returns up to n records nearest to text, optionally restricted
// by a metadata filter. n defaults to 5.
func (s *Store) Query(ctx context.Context, text string, n int, filter map[string]any) ([]Record, error) {
	col, err := s.collection()
	if err != nil {
		return nil, err
	}
	count := col.Count()
	if count == 0 {
		return nil, nil
	}
	if n <= 0 {
		n = 5
	}
	if n > count {
		n = count
	}
	results, err := col.Query(ctx, text, n, stringifyMetadata(filter), nil)
	if err != nil {
		return nil, fmt.Errorf("querying memory: %w", err)
	}
	records := make([]Record, 0, len(results))
	for _, r := range results {
		records = append(records, Record{
			ID:         r.ID,
			Text:       r.Content,
			Metadata:   r.Metadata,
			Similarity: r.Similarity,
		})
	}
	return records, nil
}

// List returns up to limit stored records ordered by id. limit defaults
// to 100.
func (s *Store) List(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 100
	}
	records, err := s.Query(ctx, listProbe, limit, nil)
	if err != nil {
		return nil, err
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	for i := range records {
		records[i].Similarity = 0
	}
	return records, nil
}

// Delete removes a single record by id.
func (s *Store) Delete(ctx context.Context, id string) error {
	col, err := s.collection()
	if err != nil {
		return err
	}
	if err := col.Delete(ctx, nil, nil, id); err != nil {
		return fmt.Errorf("deleting memory %s: %w", id, err)
	}
	return nil
}

// Clear drops every stored record and recreates the collection.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.collectionLocked(); err != nil {
		return err
	}
	if err := s.db.DeleteCollection(collectionName); err != nil {
		return fmt.Errorf("clearing memory: %w", err)
	}
	s.col = nil
	_, err := s.collectionLocked()
	return err
}

// Count reports how many records are stored.
func (s *Store) Count(ctx context.Context) (int, error) {
	col, err := s.collection()
	if err != nil {
		return 0, err
	}
	return col.Count(), nil
}

func stringifyMetadata(metadata map[string]any) map[string]string {
	if len(metadata) == 0 {
		return nil
	}
	out := make(map[string]string, len(metadata))
	for k, v := range metadata {
		out[k] = fmt.Sprint(v)
	}
	return out
}
