// Package history is the append-only session event log. It records a
// best-effort copy of delivered events for post-class review; live
// session state never reads from it.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"codeshare/pkg/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS session_events (
	id         TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	event      TEXT NOT NULL,
	recipient  TEXT,
	payload    TEXT,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_session_events_session ON session_events(session_id, created_at);
`

type entry struct {
	id        string
	sessionID string
	event     string
	recipient string
	payload   []byte
	createdAt time.Time
}

// Store writes events through a single goroutine; SQLite tolerates
// concurrent reads under WAL but only one writer.
type Store struct {
	db       *sql.DB
	writeCh  chan entry
	shutdown chan struct{}
	wg       sync.WaitGroup
	log      zerolog.Logger

	mu     sync.RWMutex
	closed bool
}

// NewStore opens (or creates) the event log database at path.
func NewStore(path string, log zerolog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create event log schema: %w", err)
	}

	s := &Store{
		db:       db,
		writeCh:  make(chan entry, 256),
		shutdown: make(chan struct{}),
		log:      log.With().Str("component", "history").Logger(),
	}

	s.wg.Add(1)
	go s.writeLoop()
	return s, nil
}

func (s *Store) writeLoop() {
	defer s.wg.Done()

	for {
		select {
		case e := <-s.writeCh:
			if err := s.insert(e); err != nil {
				// Retry once; the log is best-effort, so a second
				// failure only drops this entry.
				s.log.Warn().Err(err).Str("event", e.event).Msg("event insert failed, retrying")
				if err := s.insert(e); err != nil {
					s.log.Error().Err(err).Str("event", e.event).Msg("event dropped after retry")
				}
			}
		case <-s.shutdown:
			// Drain whatever is already queued before exiting.
			for {
				select {
				case e := <-s.writeCh:
					if err := s.insert(e); err != nil {
						s.log.Error().Err(err).Msg("event dropped during shutdown")
					}
				default:
					return
				}
			}
		}
	}
}

func (s *Store) insert(e entry) error {
	_, err := s.db.Exec(
		`INSERT INTO session_events (id, session_id, event, recipient, payload, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		e.id, e.sessionID, e.event, e.recipient, string(e.payload), e.createdAt,
	)
	return err
}

// Record queues one event for the log. It never blocks: when the queue
// is full the event is dropped, which is acceptable for an audit
// artifact and keeps the live broadcast path latency-free.
func (s *Store) Record(sessionID, event, recipient string, payload []byte) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return
	}
	s.mu.RUnlock()

	e := entry{
		id:        uuid.New().String(),
		sessionID: sessionID,
		event:     event,
		recipient: recipient,
		payload:   payload,
		createdAt: time.Now(),
	}

	select {
	case s.writeCh <- e:
	default:
		s.log.Warn().Str("session", sessionID).Str("event", event).Msg("event log queue full, dropping")
	}
}

// SessionEvents returns the recorded events for one session in
// chronological order.
func (s *Store) SessionEvents(ctx context.Context, sessionID string) ([]types.SessionEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, event, recipient, payload, created_at
		 FROM session_events WHERE session_id = ? ORDER BY created_at ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query session events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []types.SessionEvent
	for rows.Next() {
		var ev types.SessionEvent
		var recipient sql.NullString
		var payload sql.NullString
		if err := rows.Scan(&ev.ID, &ev.SessionID, &ev.Event, &recipient, &payload, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		if recipient.Valid {
			ev.Recipient = recipient.String
		}
		if payload.Valid && payload.String != "" {
			ev.Payload = []byte(payload.String)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate event rows: %w", err)
	}
	return events, nil
}

// Close stops the writer and closes the database. Safe to call twice.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.shutdown)
	s.wg.Wait()
	return s.db.Close()
}
