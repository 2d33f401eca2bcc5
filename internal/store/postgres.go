package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rcliao/chat-memory/internal/model"
)

// PostgresStore implements History in PostgreSQL. The server clock
// assigns created_at and a sequence breaks ties.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS chat_messages (
			seq BIGSERIAL PRIMARY KEY,
			id TEXT NOT NULL UNIQUE,
			user_id TEXT NOT NULL DEFAULT '',
			role TEXT NOT NULL,
			message TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_chat_messages_user_created ON chat_messages (user_id, created_at, seq);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Append(ctx context.Context, msg model.Message) (model.Message, error) {
	if err := validateMessage(msg); err != nil {
		return model.Message{}, err
	}
	if msg.ID == "" {
		msg.ID = model.NewID()
	}

	err := s.pool.QueryRow(ctx,
		`INSERT INTO chat_messages (id, user_id, role, message)
		 VALUES ($1, $2, $3, $4) RETURNING created_at`,
		msg.ID, msg.UserID, string(msg.Role), msg.Text,
	).Scan(&msg.CreatedAt)
	if err != nil {
		return model.Message{}, unavailable("save message", err)
	}
	msg.CreatedAt = msg.CreatedAt.UTC()
	return msg, nil
}

func (s *PostgresStore) Load(ctx context.Context, userID string) ([]model.Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, role, message, created_at
		 FROM chat_messages WHERE user_id=$1 ORDER BY created_at ASC, seq ASC`,
		userID,
	)
	if err != nil {
		return nil, unavailable("query history", err)
	}
	defer rows.Close()

	items := []model.Message{}
	for rows.Next() {
		var m model.Message
		var role string
		if err := rows.Scan(&m.ID, &m.UserID, &role, &m.Text, &m.CreatedAt); err != nil {
			return nil, unavailable("scan history row", err)
		}
		m.Role = model.Role(role)
		m.CreatedAt = m.CreatedAt.UTC()
		items = append(items, m)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate history rows", err)
	}
	return items, nil
}

func (s *PostgresStore) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{Backend: "postgres", Users: []UserStats{}}
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*), COUNT(DISTINCT user_id) FROM chat_messages`,
	).Scan(&st.TotalMessages, &st.TotalUsers); err != nil {
		return st, unavailable("query stats", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT user_id, COUNT(*) AS cnt,
		       COUNT(*) FILTER (WHERE role = 'user'),
		       COUNT(*) FILTER (WHERE role = 'assistant')
		FROM chat_messages GROUP BY user_id ORDER BY cnt DESC, user_id LIMIT $1`, userStatsLimit)
	if err != nil {
		return st, unavailable("query user stats", err)
	}
	defer rows.Close()
	for rows.Next() {
		var u UserStats
		if err := rows.Scan(&u.UserID, &u.Messages, &u.User, &u.Assistant); err != nil {
			return st, unavailable("scan user stats", err)
		}
		st.Users = append(st.Users, u)
	}
	if err := rows.Err(); err != nil {
		return st, unavailable("read user stats", err)
	}
	return st, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
