package db

import (
	"context"
	"embed"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed db_init.sql
var sqlFS embed.FS

// Store keeps final sentences in Postgres, grouped by server session.
type Store struct {
	pool   *pgxpool.Pool
	logger *log.Logger

	mu      sync.Mutex
	session uuid.UUID
}

type Sentence struct {
	ID        int64
	SessionID uuid.UUID
	Text      string
	CreatedAt time.Time
}

// Open connects to url and applies the embedded schema.
func Open(ctx context.Context, url string, logger *log.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to reach database: %w", err)
	}

	sqlFile, err := sqlFS.ReadFile("db_init.sql")
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to read embedded db_init.sql: %w", err)
	}
	if _, err := pool.Exec(ctx, string(sqlFile)); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to execute embedded db_init.sql: %w", err)
	}

	return &Store{pool: pool, logger: logger}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

// StartSession begins a new group of sentences; later Saves belong to it.
func (s *Store) StartSession(ctx context.Context) (uuid.UUID, error) {
	id := uuid.New()
	_, err := s.pool.Exec(
		ctx,
		`INSERT INTO transcript_sessions (id, started_at) VALUES ($1, now())`,
		id,
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("start session: %w", err)
	}

	s.mu.Lock()
	s.session = id
	s.mu.Unlock()

	s.logger.Info("transcript session", "id", id)
	return id, nil
}

// Save stores one sentence, starting a session first if needed.
func (s *Store) Save(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}

	s.mu.Lock()
	session := s.session
	s.mu.Unlock()

	if session == uuid.Nil {
		var err error
		if session, err = s.StartSession(ctx); err != nil {
			return err
		}
	}

	_, err := s.pool.Exec(
		ctx,
		`INSERT INTO sentences (session_id, text) VALUES ($1, $2)`,
		session,
		text,
	)
	if err != nil {
		return fmt.Errorf("save sentence: %w", err)
	}
	return nil
}

// RecentSentences returns up to limit sentences, newest first.
func (s *Store) RecentSentences(ctx context.Context, limit int) ([]Sentence, error) {
	rows, err := s.pool.Query(
		ctx,
		`SELECT id, session_id, text, created_at
		   FROM sentences
		  ORDER BY created_at DESC, id DESC
		  LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query sentences: %w", err)
	}

	sentences, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Sentence, error) {
		var st Sentence
		err := row.Scan(&st.ID, &st.SessionID, &st.Text, &st.CreatedAt)
		return st, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan sentences: %w", err)
	}
	return sentences, nil
}
