package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rcliao/chat-memory/internal/model"
)

// SQLiteStore implements History using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string

	// mu orders appends so created_at is strictly increasing.
	mu        sync.Mutex
	lastNanos int64
}

// NewSQLiteStore opens or creates a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	s := &SQLiteStore{db: db, dbPath: dbPath}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	// Resume the clock after the newest stored row in case the wall clock moved back.
	var last sql.NullInt64
	if err := db.QueryRow(`SELECT MAX(created_at) FROM messages`).Scan(&last); err != nil {
		db.Close()
		return nil, fmt.Errorf("read clock: %w", err)
	}
	s.lastNanos = last.Int64

	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS messages (
		id          TEXT PRIMARY KEY,
		user_id     TEXT NOT NULL DEFAULT '',
		role        TEXT NOT NULL,
		message     TEXT NOT NULL,
		created_at  INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_user_created ON messages(user_id, created_at, id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// tick returns a timestamp strictly after every one handed out before.
func (s *SQLiteStore) tick() int64 {
	now := time.Now().UnixNano()
	if now <= s.lastNanos {
		now = s.lastNanos + 1
	}
	s.lastNanos = now
	return now
}

func (s *SQLiteStore) Append(ctx context.Context, msg model.Message) (model.Message, error) {
	if err := validateMessage(msg); err != nil {
		return model.Message{}, err
	}
	if msg.ID == "" {
		msg.ID = model.NewID()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ts := s.tick()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, user_id, role, message, created_at) VALUES (?, ?, ?, ?, ?)`,
		msg.ID, msg.UserID, string(msg.Role), msg.Text, ts)
	if err != nil {
		return model.Message{}, unavailable("insert message", err)
	}

	msg.CreatedAt = time.Unix(0, ts).UTC()
	return msg, nil
}

func (s *SQLiteStore) Load(ctx context.Context, userID string) ([]model.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, role, message, created_at FROM messages
		 WHERE user_id = ? ORDER BY created_at ASC, id ASC`, userID)
	if err != nil {
		return nil, unavailable("query messages", err)
	}
	defer rows.Close()

	messages := []model.Message{}
	for rows.Next() {
		var m model.Message
		var role string
		var ts int64
		if err := rows.Scan(&m.ID, &m.UserID, &role, &m.Text, &ts); err != nil {
			return nil, unavailable("scan message", err)
		}
		m.Role = model.Role(role)
		m.CreatedAt = time.Unix(0, ts).UTC()
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate messages", err)
	}
	return messages, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
