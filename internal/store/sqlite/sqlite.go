package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/vovakirdan/roomwire/internal/store"
)

//go:embed schema.sql
var schema string

const dsnParams = "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// Option customizes a SQLiteStore.
type Option func(*SQLiteStore)

// WithClock overrides the clock used for created_at timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *SQLiteStore) {
		s.now = now
	}
}

// New creates a new SQLite store.
// dbPath is the path to the SQLite database file.
func New(dbPath string, opts ...Option) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+dsnParams)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	// SQLite works best with single connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return newStore(db, opts), nil
}

// NewWithSetup creates a new SQLite store and runs a setup function.
// Useful for tests to apply schema on an in-memory database.
func NewWithSetup(dbPath string, setup func(*sql.DB) error, opts ...Option) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+dsnParams)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// Set connection pool limits before setup
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if setup != nil {
		if err := setup(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return newStore(db, opts), nil
}

func newStore(db *sql.DB, opts []Option) *SQLiteStore {
	s := &SQLiteStore{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ApplySchema creates all tables and indexes if they do not exist.
func ApplySchema(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}

// Migrate applies the embedded schema.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) timestamp() time.Time {
	return s.now().UTC()
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// placeholders returns "?,?,?" for n arguments and the ids as driver args.
func placeholders(ids []int64) (string, []any) {
	marks := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		marks[i] = "?"
		args[i] = id
	}
	return strings.Join(marks, ","), args
}

// ==== UserStore implementation ====

// CreateUser creates a new user with hashed password.
func (s *SQLiteStore) CreateUser(ctx context.Context, username, passwordHash string) (*store.User, error) {
	query := `
		INSERT INTO users (username, password_hash, created_at)
		VALUES (?, ?, ?)
	`
	result, err := s.db.ExecContext(ctx, query, username, passwordHash, s.timestamp())
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrUserExists
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last insert id: %w", err)
	}

	return s.GetUserByID(ctx, id)
}

// GetUserByID retrieves a user by ID.
func (s *SQLiteStore) GetUserByID(ctx context.Context, id int64) (*store.User, error) {
	query := `
		SELECT id, username, password_hash, created_at
		FROM users
		WHERE id = ?
	`
	return s.scanUser(s.db.QueryRowContext(ctx, query, id))
}

// GetUserByUsername retrieves a user by username.
func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*store.User, error) {
	query := `
		SELECT id, username, password_hash, created_at
		FROM users
		WHERE username = ?
	`
	return s.scanUser(s.db.QueryRowContext(ctx, query, username))
}

func (s *SQLiteStore) scanUser(row *sql.Row) (*store.User, error) {
	var user store.User
	err := row.Scan(&user.ID, &user.Username, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user: %w", store.ErrNotFound)
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	return &user, nil
}

// ==== RoomStore implementation ====

const roomColumns = `r.id, r.type, r.listing_id, r.participant_key, r.created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRoom(row rowScanner) (*store.Room, error) {
	var room store.Room
	var listingID sql.NullString
	if err := row.Scan(&room.ID, &room.Type, &listingID, &room.ParticipantKey, &room.CreatedAt); err != nil {
		return nil, err
	}
	if listingID.Valid {
		room.ListingID = &listingID.String
	}
	return &room, nil
}

// GetRoomByID retrieves a room with its participants.
func (s *SQLiteStore) GetRoomByID(ctx context.Context, id int64) (*store.Room, error) {
	query := `SELECT ` + roomColumns + ` FROM rooms r WHERE r.id = ?`
	room, err := scanRoom(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("room %d: %w", id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query room: %w", err)
	}

	if err := s.attachParticipants(ctx, []*store.Room{room}); err != nil {
		return nil, err
	}
	return room, nil
}

// FindRoomsByParticipants returns rooms of the type and listing containing every given participant.
func (s *SQLiteStore) FindRoomsByParticipants(
	ctx context.Context,
	roomType store.RoomType,
	listingID *string,
	participantIDs []int64,
) ([]*store.Room, error) {
	ids := store.NormalizeParticipants(participantIDs)
	if len(ids) == 0 {
		return nil, nil
	}
	marks, args := placeholders(ids)

	query := `
		SELECT ` + roomColumns + `
		FROM rooms r
		WHERE r.type = ?
		  AND r.listing_id IS ?
		  AND r.id IN (
			SELECT room_id FROM room_members
			WHERE user_id IN (` + marks + `)
			GROUP BY room_id
			HAVING COUNT(*) = ?
		  )
		ORDER BY r.id ASC
	`
	queryArgs := append([]any{string(roomType), listingID}, args...)
	queryArgs = append(queryArgs, len(ids))

	rows, err := s.db.QueryContext(ctx, query, queryArgs...)
	if err != nil {
		return nil, fmt.Errorf("query rooms by participants: %w", err)
	}
	defer rows.Close()

	var rooms []*store.Room
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, fmt.Errorf("scan room: %w", err)
		}
		rooms = append(rooms, room)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := s.attachParticipants(ctx, rooms); err != nil {
		return nil, err
	}
	return rooms, nil
}

// CreateRoom creates a room and its memberships in one transaction.
func (s *SQLiteStore) CreateRoom(ctx context.Context, params store.CreateRoomParams) (*store.Room, error) {
	ids := store.NormalizeParticipants(params.ParticipantIDs)
	if len(ids) == 0 {
		return nil, fmt.Errorf("create room: no participants")
	}
	key := store.ParticipantKey(params.Type, params.ListingID, ids)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback() //nolint:errcheck // no-op after commit
	}()

	now := s.timestamp()
	result, err := tx.ExecContext(ctx, `
		INSERT INTO rooms (type, listing_id, participant_key, created_at)
		VALUES (?, ?, ?, ?)
	`, string(params.Type), params.ListingID, key, now)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicateRoom
		}
		return nil, fmt.Errorf("insert room: %w", err)
	}

	roomID, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last insert id: %w", err)
	}

	for _, userID := range ids {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO room_members (room_id, user_id, joined_at)
			VALUES (?, ?, ?)
		`, roomID, userID, now); err != nil {
			return nil, fmt.Errorf("add member %d: %w", userID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	return &store.Room{
		ID:             roomID,
		Type:           params.Type,
		ListingID:      params.ListingID,
		ParticipantKey: key,
		Participants:   ids,
		CreatedAt:      now,
	}, nil
}

// IsMember checks if user is a member of the room.
func (s *SQLiteStore) IsMember(ctx context.Context, userID, roomID int64) (bool, error) {
	query := `
		SELECT 1 FROM room_members
		WHERE user_id = ? AND room_id = ?
	`
	var exists int
	err := s.db.QueryRowContext(ctx, query, userID, roomID).Scan(&exists)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("query membership: %w", err)
	}

	return true, nil
}

// ListRoomsForUser returns the rooms of a user with participants, last message and unread count.
func (s *SQLiteStore) ListRoomsForUser(ctx context.Context, userID int64) ([]*store.RoomActivity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+roomColumns+`
		FROM rooms r
		JOIN room_members me ON me.room_id = r.id
		WHERE me.user_id = ?
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query user rooms: %w", err)
	}

	var rooms []*store.Room
	byID := make(map[int64]*store.RoomActivity)
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan room: %w", err)
		}
		rooms = append(rooms, room)
		byID[room.ID] = &store.RoomActivity{Room: room}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(rooms) == 0 {
		return nil, nil
	}

	if err := s.attachParticipants(ctx, rooms); err != nil {
		return nil, err
	}

	// Display attributes of every participant.
	rows, err = s.db.QueryContext(ctx, `
		SELECT rm.room_id, u.id, u.username
		FROM room_members rm
		JOIN room_members me ON me.room_id = rm.room_id AND me.user_id = ?
		JOIN users u ON u.id = rm.user_id
		ORDER BY rm.room_id, u.id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query participants: %w", err)
	}
	for rows.Next() {
		var roomID int64
		var p store.Participant
		if err := rows.Scan(&roomID, &p.UserID, &p.Username); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		if activity, ok := byID[roomID]; ok {
			activity.Participants = append(activity.Participants, p)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Latest message per room.
	rows, err = s.db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages m
		LEFT JOIN users u ON u.id = m.sender_id
		WHERE m.id IN (
			SELECT (
				SELECT m2.id FROM messages m2
				WHERE m2.room_id = me.room_id
				ORDER BY m2.created_at DESC, m2.id DESC
				LIMIT 1
			)
			FROM room_members me
			WHERE me.user_id = ?
		)
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query last messages: %w", err)
	}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if activity, ok := byID[msg.RoomID]; ok {
			activity.LastMessage = msg
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Unread counts: messages from others not yet read.
	rows, err = s.db.QueryContext(ctx, `
		SELECT m.room_id, COUNT(*)
		FROM messages m
		JOIN room_members me ON me.room_id = m.room_id AND me.user_id = ?
		WHERE m.status IN ('SENT', 'DELIVERED') AND m.sender_id <> ?
		GROUP BY m.room_id
	`, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("query unread counts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var roomID int64
		var count int
		if err := rows.Scan(&roomID, &count); err != nil {
			return nil, fmt.Errorf("scan unread count: %w", err)
		}
		if activity, ok := byID[roomID]; ok {
			activity.UnreadCount = count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	activities := make([]*store.RoomActivity, 0, len(rooms))
	for _, room := range rooms {
		activities = append(activities, byID[room.ID])
	}
	return activities, nil
}

// attachParticipants loads member ids for the given rooms.
func (s *SQLiteStore) attachParticipants(ctx context.Context, rooms []*store.Room) error {
	if len(rooms) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(rooms))
	byID := make(map[int64]*store.Room, len(rooms))
	for _, room := range rooms {
		ids = append(ids, room.ID)
		byID[room.ID] = room
	}
	marks, args := placeholders(ids)

	rows, err := s.db.QueryContext(ctx, `
		SELECT room_id, user_id FROM room_members
		WHERE room_id IN (`+marks+`)
		ORDER BY room_id, user_id
	`, args...)
	if err != nil {
		return fmt.Errorf("query members: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var roomID, userID int64
		if err := rows.Scan(&roomID, &userID); err != nil {
			return fmt.Errorf("scan member: %w", err)
		}
		if room, ok := byID[roomID]; ok {
			room.Participants = append(room.Participants, userID)
		}
	}
	return rows.Err()
}

// ==== MessageStore implementation ====

const messageColumns = `m.id, m.room_id, m.sender_id, COALESCE(u.username, ''), m.content, m.status, m.created_at`

func scanMessage(row rowScanner) (*store.Message, error) {
	var msg store.Message
	if err := row.Scan(
		&msg.ID,
		&msg.RoomID,
		&msg.SenderID,
		&msg.SenderName,
		&msg.Content,
		&msg.Status,
		&msg.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &msg, nil
}

// CreateMessage persists a message with status SENT.
func (s *SQLiteStore) CreateMessage(ctx context.Context, senderID, roomID int64, content string) (*store.Message, error) {
	query := `
		INSERT INTO messages (room_id, sender_id, content, status, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
	now := s.timestamp()
	result, err := s.db.ExecContext(ctx, query, roomID, senderID, content, string(store.MessageStatusSent), now)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last insert id: %w", err)
	}

	return s.GetMessage(ctx, id)
}

// GetMessage retrieves a message by ID.
func (s *SQLiteStore) GetMessage(ctx context.Context, id int64) (*store.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages m
		LEFT JOIN users u ON u.id = m.sender_id
		WHERE m.id = ?
	`
	msg, err := scanMessage(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("message %d: %w", id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query message: %w", err)
	}
	return msg, nil
}

// GetMessages retrieves existing messages among ids, ordered by id.
func (s *SQLiteStore) GetMessages(ctx context.Context, ids []int64) ([]*store.Message, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	marks, args := placeholders(ids)

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages m
		LEFT JOIN users u ON u.id = m.sender_id
		WHERE m.id IN (`+marks+`)
		ORDER BY m.id ASC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []*store.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// UpdateMessageStatus moves messages forward to status; never backwards.
func (s *SQLiteStore) UpdateMessageStatus(ctx context.Context, ids []int64, status store.MessageStatus) ([]int64, error) {
	before := status.Before()
	if len(ids) == 0 || len(before) == 0 {
		return nil, nil
	}
	marks, args := placeholders(ids)

	statusMarks := make([]string, len(before))
	for i, st := range before {
		statusMarks[i] = "?"
		args = append(args, string(st))
	}

	query := `
		UPDATE messages SET status = ?
		WHERE id IN (` + marks + `) AND status IN (` + strings.Join(statusMarks, ",") + `)
		RETURNING id
	`
	rows, err := s.db.QueryContext(ctx, query, append([]any{string(status)}, args...)...)
	if err != nil {
		return nil, fmt.Errorf("update message status: %w", err)
	}
	defer rows.Close()

	var moved []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan updated id: %w", err)
		}
		moved = append(moved, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("update message status: %w", err)
	}
	slices.Sort(moved)
	return moved, nil
}

// ListMessages returns one page of a room's messages, newest first, plus the total count.
func (s *SQLiteStore) ListMessages(ctx context.Context, roomID int64, page, pageSize int) ([]*store.Message, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE room_id = ?`, roomID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count messages: %w", err)
	}

	offset := max(0, (page-1)*pageSize)
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages m
		LEFT JOIN users u ON u.id = m.sender_id
		WHERE m.room_id = ?
		ORDER BY m.created_at DESC, m.id DESC
		LIMIT ? OFFSET ?
	`, roomID, pageSize, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []*store.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, msg)
	}

	return messages, total, rows.Err()
}
