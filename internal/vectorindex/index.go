// Package vectorindex stores message chunks with their embeddings and
// answers top-k similarity queries. It is backed by chromem-go and
// persists to disk when given a directory.
package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"

	chromem "github.com/philippgille/chromem-go"
	"golang.org/x/sync/errgroup"

	"github.com/rcliao/chat-memory/internal/embedding"
	"github.com/rcliao/chat-memory/internal/model"
)

const (
	// DefaultCollection is the chromem collection holding all chunks.
	DefaultCollection = "chat_chunks"

	// DefaultK is the retrieval breadth used when a search does not set one.
	DefaultK = 100

	metaUserID    = "user_id"
	metaRole      = "role"
	metaMessageID = "message_id"
	metaSeq       = "seq"
)

// Index is a durable chunk index with similarity search.
type Index struct {
	db          *chromem.DB
	col         *chromem.Collection
	embedder    embedding.Embedder
	concurrency int
	logger      *slog.Logger
}

// Option customizes an Index.
type Option func(*Index)

// WithConcurrency bounds how many embeddings are computed in parallel on insert.
func WithConcurrency(n int) Option {
	return func(ix *Index) {
		if n > 0 {
			ix.concurrency = n
		}
	}
}

// WithLogger sets the logger used for diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(ix *Index) {
		if l != nil {
			ix.logger = l
		}
	}
}

// Open opens or creates an index under dir. An empty dir keeps the index in memory.
func Open(dir string, e embedding.Embedder, opts ...Option) (*Index, error) {
	if e == nil {
		return nil, errors.New("vectorindex: embedder is required")
	}

	var db *chromem.DB
	if dir == "" {
		db = chromem.NewDB()
	} else {
		var err error
		db, err = chromem.NewPersistentDB(dir, false)
		if err != nil {
			return nil, fmt.Errorf("open vector db: %w", err)
		}
	}

	ix := &Index{
		db:          db,
		embedder:    e,
		concurrency: 4,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(ix)
	}

	col, err := db.GetOrCreateCollection(DefaultCollection, nil, ix.embedFunc)
	if err != nil {
		return nil, fmt.Errorf("open collection: %w", err)
	}
	ix.col = col
	return ix, nil
}

func (ix *Index) embedFunc(ctx context.Context, text string) ([]float32, error) {
	return ix.embedder.Embed(ctx, text)
}

// Insert adds chunks to the index. Missing embeddings are computed first;
// if any of them fails nothing is written. A message whose text embeds to
// a zero vector cannot be ranked, so all of its chunks are skipped while
// the rest of the batch is written. Chunks are keyed by ID, so inserting
// the same chunk again replaces it instead of duplicating it.
func (ix *Index) Insert(ctx context.Context, chunks []model.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	for i, ch := range chunks {
		if ch.ID == "" {
			return fmt.Errorf("insert chunk %d: missing id", i)
		}
	}

	vectors := make([][]float32, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ix.concurrency)
	for i, ch := range chunks {
		if len(ch.Embedding) > 0 {
			vectors[i] = ch.Embedding
			continue
		}
		g.Go(func() error {
			v, err := ix.embedder.Embed(gctx, ch.Text)
			if err != nil {
				return fmt.Errorf("embed chunk %s: %w", ch.ID, err)
			}
			vectors[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	unrankable := make(map[string]bool)
	for i, ch := range chunks {
		if isZero(vectors[i]) {
			unrankable[messageKey(ch)] = true
		}
	}

	docs := make([]chromem.Document, 0, len(chunks))
	for i, ch := range chunks {
		if unrankable[messageKey(ch)] {
			continue
		}
		docs = append(docs, chromem.Document{
			ID:        ch.ID,
			Content:   ch.Text,
			Embedding: vectors[i],
			Metadata: map[string]string{
				metaUserID:    ch.UserID,
				metaRole:      string(ch.SourceRole),
				metaMessageID: ch.MessageID,
				metaSeq:       strconv.Itoa(ch.Seq),
			},
		})
	}
	if len(unrankable) > 0 {
		ix.logger.Warn("skipped messages with zero embeddings", "messages", len(unrankable))
	}
	if len(docs) == 0 {
		return nil
	}
	if err := ix.col.AddDocuments(ctx, docs, ix.concurrency); err != nil {
		return fmt.Errorf("%w: add documents: %w", model.ErrStoreUnavailable, err)
	}
	ix.logger.Debug("indexed chunks", "count", len(docs))
	return nil
}

// messageKey groups chunks of one message; loose chunks stand alone.
func messageKey(ch model.Chunk) string {
	if ch.MessageID != "" {
		return ch.MessageID
	}
	return ch.ID
}

// SearchParams holds parameters for a similarity search.
type SearchParams struct {
	Query  string
	K      int
	UserID string
	// AllUsers disables the user filter.
	AllUsers bool
}

// Result is one ranked search hit.
type Result struct {
	ID         string     `json:"id"`
	Text       string     `json:"text"`
	Role       model.Role `json:"role"`
	UserID     string     `json:"user_id"`
	MessageID  string     `json:"message_id,omitempty"`
	Seq        int        `json:"seq"`
	Similarity float32    `json:"similarity"`
}

// Search returns at most K chunks ordered by descending similarity to the
// query. Equal scores keep insertion order. An empty index yields no
// results and no error.
func (ix *Index) Search(ctx context.Context, p SearchParams) ([]Result, error) {
	k := p.K
	if k <= 0 {
		k = DefaultK
	}
	total := ix.col.Count()
	if total == 0 {
		return nil, nil
	}

	q, err := ix.embedder.Embed(ctx, p.Query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if isZero(q) {
		return nil, nil
	}

	var where map[string]string
	if !p.AllUsers {
		where = map[string]string{metaUserID: p.UserID}
	}

	// Rank every candidate so ties at the cutoff resolve by insertion order.
	res, err := ix.col.QueryEmbedding(ctx, q, total, where, nil)
	if err != nil {
		return nil, fmt.Errorf("query index: %w", err)
	}

	out := make([]Result, len(res))
	for i, r := range res {
		seq, _ := strconv.Atoi(r.Metadata[metaSeq])
		out[i] = Result{
			ID:         r.ID,
			Text:       r.Content,
			Role:       model.Role(r.Metadata[metaRole]),
			UserID:     r.Metadata[metaUserID],
			MessageID:  r.Metadata[metaMessageID],
			Seq:        seq,
			Similarity: r.Similarity,
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return ranksBefore(out[i], out[j]) })
	if len(out) > k {
		out = out[:k]
	}
	ix.logger.Debug("vector search", "user_id", p.UserID, "candidates", total, "returned", len(out))
	return out, nil
}

// ranksBefore orders by descending similarity, then by insertion order:
// message id (ULIDs sort by creation time), then numeric chunk sequence.
func ranksBefore(a, b Result) bool {
	if a.Similarity != b.Similarity {
		return a.Similarity > b.Similarity
	}
	ka, kb := a.MessageID, b.MessageID
	if ka == "" {
		ka = a.ID
	}
	if kb == "" {
		kb = b.ID
	}
	if ka != kb {
		return ka < kb
	}
	if a.Seq != b.Seq {
		return a.Seq < b.Seq
	}
	return a.ID < b.ID
}

// Texts returns the chunk text of each result in rank order.
func Texts(results []Result) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.Text
	}
	return out
}

// Count returns the number of indexed chunks across all users.
func (ix *Index) Count() int {
	return ix.col.Count()
}

// Close releases the index. Persistent data is already on disk.
func (ix *Index) Close() error {
	return nil
}

func isZero(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}
