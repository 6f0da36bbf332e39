// Package store is the persistence collaborator at the sync core's
// boundary: room snapshots and chat history in SQLite. The core treats
// it as an opaque store/load call at join and save boundaries.
package store

import (
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

type RoomInfo struct {
	ID        string    `json:"id"`
	Version   int       `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

type ChatEntry struct {
	ID        int       `json:"id"`
	RoomID    string    `json:"room_id"`
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

type Stats struct {
	Rooms        int `json:"rooms"`
	ChatMessages int `json:"chat_messages"`
}

func New(dbPath string, logger *zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	// WAL mode for better concurrency between the hub flushes and the
	// read-only HTTP handlers.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, err
	}

	if err := createTables(db); err != nil {
		return nil, err
	}

	s := &Store{db: db, logger: logger.With().Str("component", "store").Logger()}
	s.logger.Info().Str("path", dbPath).Msg("database initialized")
	return s, nil
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS rooms (
		id TEXT PRIMARY KEY,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS room_snapshots (
		room_id TEXT PRIMARY KEY,
		code TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 0,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (room_id) REFERENCES rooms(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS chat_messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		room_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		username TEXT NOT NULL DEFAULT '',
		message TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_chat_messages_room_id ON chat_messages(room_id, id DESC);
	`

	_, err := db.Exec(schema)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ensureRoom(roomID string) error {
	_, err := s.db.Exec("INSERT OR IGNORE INTO rooms (id) VALUES (?)", roomID)
	return err
}

// SaveSnapshot upserts a room's current buffer and version.
func (s *Store) SaveSnapshot(roomID, code string, version int) error {
	if err := s.ensureRoom(roomID); err != nil {
		return err
	}
	_, err := s.db.Exec(`
		INSERT INTO room_snapshots (room_id, code, version, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(room_id) DO UPDATE SET
			code = excluded.code,
			version = excluded.version,
			updated_at = CURRENT_TIMESTAMP
	`, roomID, code, version)
	if err != nil {
		return err
	}
	_, err = s.db.Exec("UPDATE rooms SET updated_at = CURRENT_TIMESTAMP WHERE id = ?", roomID)
	return err
}

// LoadSnapshot fetches the last persisted buffer for roomID. ok is
// false when the room was never saved.
func (s *Store) LoadSnapshot(roomID string) (string, int, bool, error) {
	var code string
	var version int
	err := s.db.QueryRow(
		"SELECT code, version FROM room_snapshots WHERE room_id = ?",
		roomID,
	).Scan(&code, &version)
	if err == sql.ErrNoRows {
		return "", 0, false, nil
	}
	if err != nil {
		return "", 0, false, err
	}
	return code, version, true, nil
}

// SaveChatMessage appends one chat line to a room's history.
func (s *Store) SaveChatMessage(roomID, userID, username, message string) error {
	if err := s.ensureRoom(roomID); err != nil {
		return err
	}
	_, err := s.db.Exec(
		"INSERT INTO chat_messages (room_id, user_id, username, message) VALUES (?, ?, ?, ?)",
		roomID, userID, username, message,
	)
	return err
}

// RecentChat returns up to limit chat lines for a room, oldest first.
func (s *Store) RecentChat(roomID string, limit int) ([]ChatEntry, error) {
	rows, err := s.db.Query(`
		SELECT id, room_id, user_id, username, message, created_at FROM (
			SELECT id, room_id, user_id, username, message, created_at
			FROM chat_messages
			WHERE room_id = ?
			ORDER BY id DESC
			LIMIT ?
		) ORDER BY id ASC
	`, roomID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []ChatEntry
	for rows.Next() {
		var e ChatEntry
		if err := rows.Scan(&e.ID, &e.RoomID, &e.UserID, &e.Username, &e.Message, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ListRooms returns persisted rooms, most recently updated first.
func (s *Store) ListRooms(limit, offset int) ([]RoomInfo, error) {
	rows, err := s.db.Query(`
		SELECT r.id, COALESCE(sn.version, 0), r.updated_at
		FROM rooms r
		LEFT JOIN room_snapshots sn ON sn.room_id = r.id
		ORDER BY r.updated_at DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rooms []RoomInfo
	for rows.Next() {
		var r RoomInfo
		if err := rows.Scan(&r.ID, &r.Version, &r.UpdatedAt); err != nil {
			return nil, err
		}
		rooms = append(rooms, r)
	}
	return rooms, rows.Err()
}

// GetStats counts persisted rooms and chat messages.
func (s *Store) GetStats() (Stats, error) {
	var st Stats
	if err := s.db.QueryRow("SELECT COUNT(*) FROM rooms").Scan(&st.Rooms); err != nil {
		return st, err
	}
	if err := s.db.QueryRow("SELECT COUNT(*) FROM chat_messages").Scan(&st.ChatMessages); err != nil {
		return st, err
	}
	return st, nil
}
