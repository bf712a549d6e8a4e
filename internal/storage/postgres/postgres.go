// Package postgres is the dialogue event journal.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"time"

	_ "github.com/lib/pq"
)

// EventRow is one journaled event.
type EventRow struct {
	EventID        int64                  `json:"event_id"`
	Seq            uint64                 `json:"seq"`
	Timestamp      time.Time              `json:"ts"`
	Level          string                 `json:"level"`
	Event          string                 `json:"event"`
	ConversationID *string                `json:"conversation_id,omitempty"`
	Message        *string                `json:"msg,omitempty"`
	Fields         map[string]interface{} `json:"fields,omitempty"`
	InstanceID     string                 `json:"instance_id"`
}

// Client writes and reads the dialogue_events table for one engine instance.
type Client struct {
	db         *sql.DB
	instanceID string
}

// ConnString builds a lib/pq connection string from the PG* environment
// variables. password is passed separately so it can come from a *_FILE secret.
func ConnString(password string) string {
	host := getEnv("PGHOST", "127.0.0.1")
	port := getEnv("PGPORT", "5432")
	user := getEnv("PGUSER", "sentient")
	dbname := getEnv("PGDATABASE", "sentient")
	sslmode := getEnv("PGSSLMODE", "disable")

	if password != "" {
		return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
			host, port, user, password, dbname, sslmode)
	}
	return fmt.Sprintf("host=%s port=%s user=%s dbname=%s sslmode=%s",
		host, port, user, dbname, sslmode)
}

// New connects, pings and creates the journal table if needed.
func New(ctx context.Context, connStr, instanceID string) (*Client, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	client := &Client{
		db:         db,
		instanceID: instanceID,
	}

	if err := client.createTable(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create dialogue_events table: %w", err)
	}

	return client, nil
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func (c *Client) createTable(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS dialogue_events (
			event_id        BIGSERIAL PRIMARY KEY,
			seq             BIGINT NOT NULL,
			ts              TIMESTAMPTZ NOT NULL,
			level           TEXT NOT NULL,
			event           TEXT NOT NULL,
			conversation_id TEXT,
			msg             TEXT,
			fields          JSONB,
			instance_id     TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_dialogue_events_ts ON dialogue_events(ts DESC);
		CREATE INDEX IF NOT EXISTS idx_dialogue_events_conversation ON dialogue_events(conversation_id);
	`
	_, err := c.db.ExecContext(ctx, query)
	return err
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Append inserts one event. It satisfies events.JournalWriter.
func (c *Client) Append(ts time.Time, seq uint64, level, event, conversation, msg string, fields map[string]interface{}) error {
	var fieldsJSON []byte
	if fields != nil {
		var err error
		fieldsJSON, err = json.Marshal(fields)
		if err != nil {
			return fmt.Errorf("failed to marshal fields: %w", err)
		}
	}

	query := `
		INSERT INTO dialogue_events (seq, ts, level, event, conversation_id, msg, fields, instance_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := c.db.Exec(query, int64(seq), ts, level, event, nullable(conversation), nullable(msg), fieldsJSON, c.instanceID)
	return err
}

// Query returns the last limit events, newest first. A non-empty
// conversation restricts the result to that conversation.
func (c *Client) Query(ctx context.Context, conversation string, limit int) ([]EventRow, error) {
	if limit <= 0 {
		limit = 200
	}
	if limit > 10000 {
		limit = 10000
	}

	query := `
		SELECT event_id, seq, ts, level, event, conversation_id, msg, fields, instance_id
		FROM dialogue_events
		WHERE instance_id = $1 AND ($2 = '' OR conversation_id = $2)
		ORDER BY ts DESC, seq DESC
		LIMIT $3
	`
	rows, err := c.db.QueryContext(ctx, query, c.instanceID, conversation, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EventRow
	for rows.Next() {
		var e EventRow
		var seq int64
		var fieldsJSON []byte
		var conv, msg sql.NullString

		if err := rows.Scan(&e.EventID, &seq, &e.Timestamp, &e.Level, &e.Event, &conv, &msg, &fieldsJSON, &e.InstanceID); err != nil {
			return nil, err
		}
		e.Seq = uint64(seq)
		if conv.Valid {
			e.ConversationID = &conv.String
		}
		if msg.Valid {
			e.Message = &msg.String
		}
		if len(fieldsJSON) > 0 {
			if err := json.Unmarshal(fieldsJSON, &e.Fields); err != nil {
				return nil, fmt.Errorf("failed to unmarshal fields: %w", err)
			}
		}

		events = append(events, e)
	}

	return events, rows.Err()
}

// Close closes the database connection.
func (c *Client) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}
