package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/rcliao/chat-memory/internal/chunker"
	"github.com/rcliao/chat-memory/internal/embedding"
	"github.com/rcliao/chat-memory/internal/model"
)

func newTestIndex(t *testing.T, dir string) *Index {
	t.Helper()
	ix, err := Open(dir, embedding.NewHashEmbedder(64))
	if err != nil {
		t.Fatalf("open index: %v", err)
	}
	t.Cleanup(func() { ix.Close() })
	return ix
}

func chunk(id, user, text string) model.Chunk {
	return model.Chunk{ID: id, UserID: user, Text: text, SourceRole: model.RoleUser}
}

func TestSearch_EmptyIndex(t *testing.T) {
	ix := newTestIndex(t, "")
	res, err := ix.Search(context.Background(), SearchParams{Query: "anything", K: 100, UserID: "alice"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(res) != 0 {
		t.Errorf("expected no results, got %d", len(res))
	}
}

func TestSearch_RanksBySimilarity(t *testing.T) {
	ctx := context.Background()
	ix := newTestIndex(t, "")
	err := ix.Insert(ctx, []model.Chunk{
		chunk("a-0000", "alice", "Bananas are yellow fruit"),
		chunk("b-0000", "alice", "Paris is the capital of France"),
		chunk("c-0000", "alice", "The capital city has many museums"),
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	res, err := ix.Search(ctx, SearchParams{Query: "capital of France", K: 100, UserID: "alice"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(res) != 3 {
		t.Fatalf("expected all 3 chunks, got %d", len(res))
	}
	if res[0].ID != "b-0000" {
		t.Errorf("expected France chunk first, got %s", res[0].ID)
	}
	for i := 1; i < len(res); i++ {
		if res[i].Similarity > res[i-1].Similarity {
			t.Errorf("results not ranked at %d: %f > %f", i, res[i].Similarity, res[i-1].Similarity)
		}
	}
}

func TestSearch_LimitsToK(t *testing.T) {
	ctx := context.Background()
	ix := newTestIndex(t, "")
	var chunks []model.Chunk
	for i := 0; i < 12; i++ {
		chunks = append(chunks, chunk(fmt.Sprintf("m%02d-0000", i), "alice", fmt.Sprintf("note number %d about cats", i)))
	}
	if err := ix.Insert(ctx, chunks); err != nil {
		t.Fatalf("insert: %v", err)
	}
	res, err := ix.Search(ctx, SearchParams{Query: "cats", K: 5, UserID: "alice"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(res) != 5 {
		t.Errorf("expected 5 results, got %d", len(res))
	}
}

func TestSearch_TiesKeepInsertionOrder(t *testing.T) {
	ctx := context.Background()
	ix := newTestIndex(t, "")
	var chunks []model.Chunk
	for i := 0; i < 6; i++ {
		chunks = append(chunks, chunk(model.ChunkID(model.NewID(), 0), "alice", "identical text"))
	}
	if err := ix.Insert(ctx, chunks); err != nil {
		t.Fatalf("insert: %v", err)
	}
	res, err := ix.Search(ctx, SearchParams{Query: "identical text", K: 4, UserID: "alice"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(res) != 4 {
		t.Fatalf("expected 4 results, got %d", len(res))
	}
	for i, r := range res {
		if r.ID != chunks[i].ID {
			t.Errorf("result %d = %s, want %s", i, r.ID, chunks[i].ID)
		}
	}
}

func TestSearch_FiltersByUser(t *testing.T) {
	ctx := context.Background()
	ix := newTestIndex(t, "")
	ix.Insert(ctx, []model.Chunk{
		chunk("a-0000", "alice", "my dog is called Rex"),
		chunk("b-0000", "bob", "my dog is called Fido"),
	})

	res, err := ix.Search(ctx, SearchParams{Query: "dog", UserID: "bob"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(res) != 1 || res[0].UserID != "bob" {
		t.Errorf("expected only bob's chunk, got %+v", res)
	}

	all, _ := ix.Search(ctx, SearchParams{Query: "dog", AllUsers: true})
	if len(all) != 2 {
		t.Errorf("expected 2 results across users, got %d", len(all))
	}

	none, err := ix.Search(ctx, SearchParams{Query: "dog", UserID: "carol"})
	if err != nil {
		t.Fatalf("search unknown user: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("expected no results for carol, got %d", len(none))
	}
}

func TestInsert_Idempotent(t *testing.T) {
	ctx := context.Background()
	ix := newTestIndex(t, "")
	c, _ := chunker.New(chunker.Options{Size: 20, Overlap: 4})
	msg := model.Message{ID: model.NewID(), UserID: "alice", Role: model.RoleUser, Text: strings.Repeat("remember the milk please ", 4)}
	chunks := c.ForMessage(msg)

	for i := 0; i < 2; i++ {
		if err := ix.Insert(ctx, chunks); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}
	if ix.Count() != len(chunks) {
		t.Errorf("expected %d chunks after re-insert, got %d", len(chunks), ix.Count())
	}
}

type failingEmbedder struct{ embedding.Embedder }

func (failingEmbedder) Embed(context.Context, string) (embedding.Vector, error) {
	return nil, model.ErrEmbeddingUnavailable
}

func TestInsert_EmbeddingFailureWritesNothing(t *testing.T) {
	ix, err := Open("", failingEmbedder{embedding.NewHashEmbedder(8)})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	err = ix.Insert(context.Background(), []model.Chunk{chunk("a-0000", "alice", "hello")})
	if !errors.Is(err, model.ErrEmbeddingUnavailable) {
		t.Errorf("expected ErrEmbeddingUnavailable, got %v", err)
	}
	if ix.Count() != 0 {
		t.Errorf("expected nothing indexed, got %d", ix.Count())
	}
}

func TestInsert_RejectsMissingID(t *testing.T) {
	ix := newTestIndex(t, "")
	if err := ix.Insert(context.Background(), []model.Chunk{{Text: "x"}}); err == nil {
		t.Error("expected error for chunk without id")
	}
}

func TestPersistence(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	ix := newTestIndex(t, dir)
	if err := ix.Insert(ctx, []model.Chunk{chunk("a-0000", "alice", "durable memories survive restarts")}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	reopened := newTestIndex(t, dir)
	if reopened.Count() != 1 {
		t.Fatalf("expected 1 chunk after reopen, got %d", reopened.Count())
	}
	res, err := reopened.Search(ctx, SearchParams{Query: "survive restarts", UserID: "alice"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(res) != 1 || res[0].Text != "durable memories survive restarts" {
		t.Errorf("unexpected results %+v", res)
	}
}

// blankEmbedder returns a zero vector for one specific text.
type blankEmbedder struct {
	embedding.Embedder
	blank string
}

func (b blankEmbedder) Embed(ctx context.Context, text string) (embedding.Vector, error) {
	if text == b.blank {
		return make(embedding.Vector, b.Dims()), nil
	}
	return b.Embedder.Embed(ctx, text)
}

func TestInsert_SkipsZeroVectorMessage(t *testing.T) {
	ctx := context.Background()
	ix, err := Open("", blankEmbedder{embedding.NewHashEmbedder(64), "..."})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	question := model.Chunk{ID: model.ChunkID("m1", 0), MessageID: "m1", UserID: "alice", Text: "...", SourceRole: model.RoleUser}
	tail := model.Chunk{ID: model.ChunkID("m1", 1), MessageID: "m1", Seq: 1, UserID: "alice", Text: "a tail chunk", SourceRole: model.RoleUser}
	answer := model.Chunk{ID: model.ChunkID("m2", 0), MessageID: "m2", UserID: "alice", Text: "Paris is the capital of France.", SourceRole: model.RoleAssistant}

	if err := ix.Insert(ctx, []model.Chunk{question, tail, answer}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if ix.Count() != 1 {
		t.Fatalf("expected only the answer indexed, got %d chunks", ix.Count())
	}
	res, err := ix.Search(ctx, SearchParams{Query: "capital of France", UserID: "alice"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(res) != 1 || res[0].ID != answer.ID {
		t.Errorf("expected the answer chunk, got %+v", res)
	}
}

func TestSearch_TiesOrderBySequenceNumerically(t *testing.T) {
	ctx := context.Background()
	ix := newTestIndex(t, "")
	msg := model.NewID()
	var chunks []model.Chunk
	for _, seq := range []int{10000, 9999, 10001} {
		chunks = append(chunks, model.Chunk{
			ID: model.ChunkID(msg, seq), MessageID: msg, Seq: seq,
			UserID: "alice", Text: "same words", SourceRole: model.RoleUser,
		})
	}
	if err := ix.Insert(ctx, chunks); err != nil {
		t.Fatalf("insert: %v", err)
	}
	res, err := ix.Search(ctx, SearchParams{Query: "same words", UserID: "alice"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(res) != 3 {
		t.Fatalf("expected 3 results, got %d", len(res))
	}
	for i, want := range []int{9999, 10000, 10001} {
		if res[i].Seq != want {
			t.Errorf("result %d seq = %d, want %d", i, res[i].Seq, want)
		}
	}
}
