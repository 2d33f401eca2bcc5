package store

import (
	"context"
	"os"
)

// Stats holds database statistics.
type Stats struct {
	Backend       string      `json:"backend"`
	DBPath        string      `json:"db_path,omitempty"`
	DBSizeBytes   int64       `json:"db_size_bytes,omitempty"`
	TotalMessages int         `json:"total_messages"`
	TotalUsers    int         `json:"total_users"`
	Users         []UserStats `json:"users"`
}

// UserStats holds per-user counts.
type UserStats struct {
	UserID    string `json:"user_id"`
	Messages  int    `json:"messages"`
	User      int    `json:"user_messages"`
	Assistant int    `json:"assistant_messages"`
}

const userStatsLimit = 20

// Stats returns database statistics.
func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{Backend: "sqlite", DBPath: s.dbPath, Users: []UserStats{}}

	// DB file size
	if info, err := os.Stat(s.dbPath); err == nil {
		st.DBSizeBytes = info.Size()
	}

	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COUNT(DISTINCT user_id) FROM messages`,
	).Scan(&st.TotalMessages, &st.TotalUsers); err != nil {
		return st, unavailable("query stats", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, COUNT(*) AS cnt,
		       SUM(CASE WHEN role = 'user' THEN 1 ELSE 0 END),
		       SUM(CASE WHEN role = 'assistant' THEN 1 ELSE 0 END)
		FROM messages GROUP BY user_id ORDER BY cnt DESC, user_id LIMIT ?`, userStatsLimit)
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
