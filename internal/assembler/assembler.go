// Package assembler builds the prompt context for a conversation turn from
// recent memory and retrieved history, and records the turn afterwards.
package assembler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rcliao/chat-memory/internal/chunker"
	"github.com/rcliao/chat-memory/internal/llm"
	"github.com/rcliao/chat-memory/internal/model"
	"github.com/rcliao/chat-memory/internal/observability"
	"github.com/rcliao/chat-memory/internal/reliability"
	"github.com/rcliao/chat-memory/internal/store"
	"github.com/rcliao/chat-memory/internal/vectorindex"
	"github.com/rcliao/chat-memory/internal/window"
)

// Index is the subset of the vector index the assembler uses.
type Index interface {
	Insert(ctx context.Context, chunks []model.Chunk) error
	Search(ctx context.Context, p vectorindex.SearchParams) ([]vectorindex.Result, error)
}

// Deps are the collaborators of an Assembler.
type Deps struct {
	Chunker *chunker.Chunker
	Index   Index
	History store.History
	Backend llm.Backend
	Metrics *observability.Metrics
	Logger  *slog.Logger
}

// Config tunes an Assembler.
type Config struct {
	SystemPrompt   string
	RetrievalK     int
	Model          string
	Params         llm.Params
	BackendTimeout time.Duration
	PersistTimeout time.Duration
	Retry          reliability.Policy
	// IngestMaxChars caps how much of a fetched document reaches the backend.
	IngestMaxChars int
}

// DefaultConfig returns the default assembler settings.
func DefaultConfig() Config {
	return Config{
		SystemPrompt:   DefaultSystemPrompt,
		RetrievalK:     vectorindex.DefaultK,
		Params:         llm.DefaultParams(),
		BackendTimeout: 60 * time.Second,
		PersistTimeout: 10 * time.Second,
		Retry:          reliability.DefaultPolicy(),
		IngestMaxChars: DefaultIngestMaxChars,
	}
}

// Assembler orchestrates one turn: prime, retrieve, generate, persist.
type Assembler struct {
	deps Deps
	cfg  Config

	mu     sync.Mutex
	primed map[string]bool
}

// New creates an Assembler.
func New(deps Deps, cfg Config) (*Assembler, error) {
	if deps.Chunker == nil || deps.Index == nil || deps.History == nil || deps.Backend == nil {
		return nil, errors.New("assembler: chunker, index, history and backend are required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = def.SystemPrompt
	}
	if cfg.RetrievalK <= 0 {
		cfg.RetrievalK = def.RetrievalK
	}
	if cfg.Params == (llm.Params{}) {
		cfg.Params = def.Params
	}
	if cfg.BackendTimeout <= 0 {
		cfg.BackendTimeout = def.BackendTimeout
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = def.PersistTimeout
	}
	if cfg.IngestMaxChars <= 0 {
		cfg.IngestMaxChars = def.IngestMaxChars
	}
	return &Assembler{deps: deps, cfg: cfg, primed: make(map[string]bool)}, nil
}

// Primed reports whether a user's history has been loaded into the index
// by this process.
func (a *Assembler) Primed(userID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.primed[userID]
}

// prime loads a user's stored history into the index once per process.
// Each message is indexed on its own so one bad message cannot hold back
// the rest. A failed load is logged and left unrecorded so the next turn
// retries it; already indexed messages are upserted again harmlessly.
func (a *Assembler) prime(ctx context.Context, userID string) error {
	if a.Primed(userID) {
		return nil
	}
	log := a.deps.Logger.With("user_id", userID, "stage", observability.StagePrime)

	history, err := a.deps.History.Load(ctx, userID)
	if err == nil {
		indexed, chunks := 0, 0
		for _, msg := range history {
			if ctx.Err() != nil {
				break
			}
			mc := a.deps.Chunker.ForMessage(msg)
			if ierr := a.deps.Index.Insert(ctx, mc); ierr != nil {
				log.Warn("message not indexed", "message_id", msg.ID, "error", ierr)
				if err == nil {
					err = ierr
				}
				continue
			}
			indexed++
			chunks += len(mc)
		}
		if err == nil && ctx.Err() == nil {
			a.mu.Lock()
			a.primed[userID] = true
			a.mu.Unlock()
			log.Debug("history primed", "messages", indexed, "chunks", chunks)
			return nil
		}
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	log.Warn("history priming failed", "error", err)
	a.degraded(observability.StagePrime)
	return nil
}

// PrepareTurn builds the prompt context for incoming. Retrieval failures
// degrade to an empty context; only a cancelled ctx is returned as an error.
func (a *Assembler) PrepareTurn(ctx context.Context, userID string, w *window.Window, incoming string) (PromptContext, error) {
	if err := a.prime(ctx, userID); err != nil {
		return PromptContext{}, err
	}

	results, err := a.deps.Index.Search(ctx, vectorindex.SearchParams{
		Query:  incoming,
		K:      a.cfg.RetrievalK,
		UserID: userID,
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return PromptContext{}, ctxErr
		}
		a.deps.Logger.Warn("retrieval failed, continuing without context",
			"user_id", userID, "stage", observability.StageRetrieve, "error", err)
		a.degraded(observability.StageRetrieve)
		results = nil
	}
	if a.deps.Metrics != nil {
		a.deps.Metrics.RetrievedChunks.Observe(float64(len(results)))
	}

	pc := PromptContext{
		System:    a.cfg.SystemPrompt,
		Retrieved: vectorindex.Texts(results),
		Incoming:  incoming,
	}
	if w != nil {
		pc.Window = w.Snapshot()
	}
	return pc, nil
}

// CompleteTurn records a finished turn: the window first, then the index,
// then history. Persistence runs even if ctx is cancelled and its failures
// are logged, never returned.
func (a *Assembler) CompleteTurn(ctx context.Context, userID string, w *window.Window, incoming, response string) {
	if w != nil {
		w.Push(incoming, response)
	}

	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.PersistTimeout)
	defer cancel()

	msgs := []model.Message{
		{ID: model.NewID(), UserID: userID, Role: model.RoleUser, Text: incoming},
		{ID: model.NewID(), UserID: userID, Role: model.RoleAssistant, Text: response},
	}
	log := a.deps.Logger.With("user_id", userID)

	for _, m := range msgs {
		chunks := a.deps.Chunker.ForMessage(m)
		if err := reliability.Retry(pctx, a.cfg.Retry, func(ctx context.Context) error {
			return a.deps.Index.Insert(ctx, chunks)
		}); err != nil {
			log.Error("index write failed", "stage", observability.StageIndex, "message_id", m.ID, "role", m.Role, "chunks", len(chunks), "error", err)
			a.degraded(observability.StageIndex)
		}
	}

	// Anonymous turns stay searchable for the process but are not saved.
	if userID == "" {
		return
	}
	for _, m := range msgs {
		if err := reliability.Retry(pctx, a.cfg.Retry, func(ctx context.Context) error {
			_, err := a.deps.History.Append(ctx, m)
			return err
		}); err != nil {
			log.Error("history write failed", "stage", observability.StageHistory, "message_id", m.ID, "role", m.Role, "error", err)
			a.degraded(observability.StageHistory)
		}
	}
}

// TurnRequest is one user message within a session.
type TurnRequest struct {
	UserID  string
	Window  *window.Window
	Message string
	// Params overrides the configured generation parameters when non-zero.
	Params llm.Params
}

// TurnResult is the reply shown to the user.
type TurnResult struct {
	Response  string `json:"response"`
	Fallback  bool   `json:"fallback"`
	Retrieved int    `json:"retrieved"`
}

// ErrInvalidParams wraps generation parameters outside their ranges.
var ErrInvalidParams = errors.New("invalid generation parameters")

// Turn runs a full conversational turn. Backend failures become the
// fallback reply; a cancelled ctx aborts the turn and nothing is recorded.
func (a *Assembler) Turn(ctx context.Context, req TurnRequest) (TurnResult, error) {
	params := req.Params
	if params == (llm.Params{}) {
		params = a.cfg.Params
	}
	if err := params.Validate(); err != nil {
		a.turnDone(observability.OutcomeRejected, 0)
		return TurnResult{}, fmt.Errorf("%w: %w", ErrInvalidParams, err)
	}

	start := time.Now()
	pc, err := a.PrepareTurn(ctx, req.UserID, req.Window, req.Message)
	if err != nil {
		a.turnDone(observability.OutcomeCancelled, 0)
		return TurnResult{}, err
	}

	acc, err := a.generate(ctx, pc.Messages(), params)
	if err != nil {
		a.deps.Logger.Info("turn abandoned by caller", "user_id", req.UserID, "error", err)
		a.turnDone(observability.OutcomeCancelled, 0)
		return TurnResult{}, err
	}
	if acc.Fallback {
		a.deps.Logger.Warn("backend stream failed, using fallback reply",
			"user_id", req.UserID, "error", acc.Cause)
	}

	a.CompleteTurn(ctx, req.UserID, req.Window, req.Message, acc.Text)

	outcome := observability.OutcomeOK
	if acc.Fallback {
		outcome = observability.OutcomeFallback
	}
	a.turnDone(outcome, time.Since(start))

	return TurnResult{
		Response:  acc.Text,
		Fallback:  acc.Fallback,
		Retrieved: len(pc.Retrieved),
	}, nil
}

// IngestRequest is a fetched document to be remembered within a session.
type IngestRequest struct {
	UserID  string
	Window  *window.Window
	URL     string
	Content string
}

// Ingest has the backend turn a document into notes and records the
// (url, notes) pair as a turn, so later questions can retrieve it.
// Backend failures and caller cancellation behave as in Turn.
func (a *Assembler) Ingest(ctx context.Context, req IngestRequest) (TurnResult, error) {
	start := time.Now()
	acc, err := a.generate(ctx, ExtractionMessages(req.Content, a.cfg.IngestMaxChars), a.cfg.Params)
	if err != nil {
		a.deps.Logger.Info("ingest abandoned by caller", "user_id", req.UserID, "url", req.URL, "error", err)
		a.turnDone(observability.OutcomeCancelled, 0)
		return TurnResult{}, err
	}
	outcome := observability.OutcomeOK
	if acc.Fallback {
		outcome = observability.OutcomeFallback
		a.deps.Logger.Warn("backend stream failed during ingest, using fallback reply",
			"user_id", req.UserID, "url", req.URL, "error", acc.Cause)
	}

	a.CompleteTurn(ctx, req.UserID, req.Window, req.URL, acc.Text)
	a.turnDone(outcome, time.Since(start))
	return TurnResult{Response: acc.Text, Fallback: acc.Fallback}, nil
}

func (a *Assembler) generate(ctx context.Context, msgs []llm.Message, params llm.Params) (llm.Accumulation, error) {
	bctx, cancel := context.WithTimeout(ctx, a.cfg.BackendTimeout)
	defer cancel()

	stream, err := a.deps.Backend.Stream(bctx, llm.Request{
		Model:    a.cfg.Model,
		Messages: msgs,
		Params:   params,
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return llm.Accumulation{}, ctxErr
		}
		return llm.Fallback(err), nil
	}
	return llm.Accumulate(ctx, stream)
}

func (a *Assembler) degraded(stage string) {
	if a.deps.Metrics != nil {
		a.deps.Metrics.Degradations.WithLabelValues(stage).Inc()
	}
}

func (a *Assembler) turnDone(outcome string, d time.Duration) {
	if a.deps.Metrics == nil {
		return
	}
	a.deps.Metrics.Turns.WithLabelValues(outcome).Inc()
	if d > 0 {
		a.deps.Metrics.ObserveTurnLatency(d)
	}
}
