package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vovakirdan/roomwire/internal/store"
)

//go:embed schema.sql
var schema string

const uniqueViolation = "23505"

// PostgresStore implements store.Store on a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// New connects to PostgreSQL using dsn and verifies the connection.
func New(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// Migrate applies the embedded schema.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close releases all pooled connections.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// ==== UserStore implementation ====

// CreateUser creates a new user with hashed password.
func (s *PostgresStore) CreateUser(ctx context.Context, username, passwordHash string) (*store.User, error) {
	var user store.User
	err := s.pool.QueryRow(ctx, `
		INSERT INTO users (username, password_hash)
		VALUES ($1, $2)
		RETURNING id, username, password_hash, created_at
	`, username, passwordHash).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrUserExists
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return &user, nil
}

// GetUserByID retrieves a user by ID.
func (s *PostgresStore) GetUserByID(ctx context.Context, id int64) (*store.User, error) {
	return s.queryUser(ctx, `SELECT id, username, password_hash, created_at FROM users WHERE id = $1`, id)
}

// GetUserByUsername retrieves a user by username.
func (s *PostgresStore) GetUserByUsername(ctx context.Context, username string) (*store.User, error) {
	return s.queryUser(ctx, `SELECT id, username, password_hash, created_at FROM users WHERE username = $1`, username)
}

func (s *PostgresStore) queryUser(ctx context.Context, query string, arg any) (*store.User, error) {
	var user store.User
	err := s.pool.QueryRow(ctx, query, arg).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("user: %w", store.ErrNotFound)
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	return &user, nil
}

// ==== RoomStore implementation ====

const roomColumns = `r.id, r.type, r.listing_id, r.participant_key, r.created_at`

func scanRoom(row pgx.Row) (*store.Room, error) {
	var room store.Room
	var roomType string
	if err := row.Scan(&room.ID, &roomType, &room.ListingID, &room.ParticipantKey, &room.CreatedAt); err != nil {
		return nil, err
	}
	room.Type = store.RoomType(roomType)
	return &room, nil
}

func (s *PostgresStore) queryRooms(ctx context.Context, query string, args ...any) ([]*store.Room, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query rooms: %w", err)
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

// GetRoomByID retrieves a room with its participants.
func (s *PostgresStore) GetRoomByID(ctx context.Context, id int64) (*store.Room, error) {
	rooms, err := s.queryRooms(ctx, `SELECT `+roomColumns+` FROM rooms r WHERE r.id = $1`, id)
	if err != nil {
		return nil, err
	}
	if len(rooms) == 0 {
		return nil, fmt.Errorf("room %d: %w", id, store.ErrNotFound)
	}
	return rooms[0], nil
}

// FindRoomsByParticipants returns rooms of the type and listing containing every given participant.
func (s *PostgresStore) FindRoomsByParticipants(
	ctx context.Context,
	roomType store.RoomType,
	listingID *string,
	participantIDs []int64,
) ([]*store.Room, error) {
	ids := store.NormalizeParticipants(participantIDs)
	if len(ids) == 0 {
		return nil, nil
	}

	return s.queryRooms(ctx, `
		SELECT `+roomColumns+`
		FROM rooms r
		WHERE r.type = $1
		  AND r.listing_id IS NOT DISTINCT FROM $2
		  AND r.id IN (
			SELECT room_id FROM room_members
			WHERE user_id = ANY($3)
			GROUP BY room_id
			HAVING COUNT(*) = $4
		  )
		ORDER BY r.id ASC
	`, string(roomType), listingID, ids, len(ids))
}

// CreateRoom creates a room and its memberships in one transaction.
func (s *PostgresStore) CreateRoom(ctx context.Context, params store.CreateRoomParams) (*store.Room, error) {
	ids := store.NormalizeParticipants(params.ParticipantIDs)
	if len(ids) == 0 {
		return nil, fmt.Errorf("create room: no participants")
	}
	key := store.ParticipantKey(params.Type, params.ListingID, ids)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx) //nolint:errcheck // no-op after commit
	}()

	room := store.Room{
		Type:           params.Type,
		ListingID:      params.ListingID,
		ParticipantKey: key,
		Participants:   ids,
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO rooms (type, listing_id, participant_key)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`, string(params.Type), params.ListingID, key).Scan(&room.ID, &room.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicateRoom
		}
		return nil, fmt.Errorf("insert room: %w", err)
	}

	batch := &pgx.Batch{}
	for _, userID := range ids {
		batch.Queue(`INSERT INTO room_members (room_id, user_id) VALUES ($1, $2)`, room.ID, userID)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return nil, fmt.Errorf("add members: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return &room, nil
}

// IsMember checks if user is a member of the room.
func (s *PostgresStore) IsMember(ctx context.Context, userID, roomID int64) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM room_members WHERE user_id = $1 AND room_id = $2)
	`, userID, roomID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("query membership: %w", err)
	}
	return exists, nil
}

// ListRoomsForUser returns the rooms of a user with participants, last message and unread count.
func (s *PostgresStore) ListRoomsForUser(ctx context.Context, userID int64) ([]*store.RoomActivity, error) {
	rooms, err := s.queryRooms(ctx, `
		SELECT `+roomColumns+`
		FROM rooms r
		JOIN room_members me ON me.room_id = r.id
		WHERE me.user_id = $1
	`, userID)
	if err != nil {
		return nil, err
	}
	if len(rooms) == 0 {
		return nil, nil
	}

	byID := make(map[int64]*store.RoomActivity, len(rooms))
	for _, room := range rooms {
		byID[room.ID] = &store.RoomActivity{Room: room}
	}

	rows, err := s.pool.Query(ctx, `
		SELECT rm.room_id, u.id, u.username
		FROM room_members rm
		JOIN room_members me ON me.room_id = rm.room_id AND me.user_id = $1
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

	lastMessages, err := s.queryMessages(ctx, `
		SELECT DISTINCT ON (m.room_id) `+messageColumns+`
		FROM messages m
		JOIN room_members me ON me.room_id = m.room_id AND me.user_id = $1
		LEFT JOIN users u ON u.id = m.sender_id
		ORDER BY m.room_id, m.created_at DESC, m.id DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	for _, msg := range lastMessages {
		if activity, ok := byID[msg.RoomID]; ok {
			activity.LastMessage = msg
		}
	}

	rows, err = s.pool.Query(ctx, `
		SELECT m.room_id, COUNT(*)
		FROM messages m
		JOIN room_members me ON me.room_id = m.room_id AND me.user_id = $1
		WHERE m.status IN ('SENT', 'DELIVERED') AND m.sender_id <> $1
		GROUP BY m.room_id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query unread counts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var roomID, count int64
		if err := rows.Scan(&roomID, &count); err != nil {
			return nil, fmt.Errorf("scan unread count: %w", err)
		}
		if activity, ok := byID[roomID]; ok {
			activity.UnreadCount = int(count)
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

func (s *PostgresStore) attachParticipants(ctx context.Context, rooms []*store.Room) error {
	if len(rooms) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(rooms))
	byID := make(map[int64]*store.Room, len(rooms))
	for _, room := range rooms {
		ids = append(ids, room.ID)
		byID[room.ID] = room
	}

	rows, err := s.pool.Query(ctx, `
		SELECT room_id, user_id FROM room_members
		WHERE room_id = ANY($1)
		ORDER BY room_id, user_id
	`, ids)
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

func (s *PostgresStore) queryMessages(ctx context.Context, query string, args ...any) ([]*store.Message, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []*store.Message
	for rows.Next() {
		var msg store.Message
		var status string
		if err := rows.Scan(
			&msg.ID,
			&msg.RoomID,
			&msg.SenderID,
			&msg.SenderName,
			&msg.Content,
			&status,
			&msg.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Status = store.MessageStatus(status)
		messages = append(messages, &msg)
	}
	return messages, rows.Err()
}

// CreateMessage persists a message with status SENT.
func (s *PostgresStore) CreateMessage(ctx context.Context, senderID, roomID int64, content string) (*store.Message, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO messages (room_id, sender_id, content, status)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, roomID, senderID, content, string(store.MessageStatusSent)).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	return s.GetMessage(ctx, id)
}

// GetMessage retrieves a message by ID.
func (s *PostgresStore) GetMessage(ctx context.Context, id int64) (*store.Message, error) {
	messages, err := s.queryMessages(ctx, `
		SELECT `+messageColumns+`
		FROM messages m
		LEFT JOIN users u ON u.id = m.sender_id
		WHERE m.id = $1
	`, id)
	if err != nil {
		return nil, err
	}
	if len(messages) == 0 {
		return nil, fmt.Errorf("message %d: %w", id, store.ErrNotFound)
	}
	return messages[0], nil
}

// GetMessages retrieves existing messages among ids, ordered by id.
func (s *PostgresStore) GetMessages(ctx context.Context, ids []int64) ([]*store.Message, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return s.queryMessages(ctx, `
		SELECT `+messageColumns+`
		FROM messages m
		LEFT JOIN users u ON u.id = m.sender_id
		WHERE m.id = ANY($1)
		ORDER BY m.id ASC
	`, ids)
}

// UpdateMessageStatus moves messages forward to status; never backwards.
func (s *PostgresStore) UpdateMessageStatus(ctx context.Context, ids []int64, status store.MessageStatus) ([]int64, error) {
	before := status.Before()
	if len(ids) == 0 || len(before) == 0 {
		return nil, nil
	}
	from := make([]string, len(before))
	for i, st := range before {
		from[i] = string(st)
	}

	rows, err := s.pool.Query(ctx, `
		UPDATE messages SET status = $1
		WHERE id = ANY($2) AND status = ANY($3)
		RETURNING id
	`, string(status), ids, from)
	if err != nil {
		return nil, fmt.Errorf("update message status: %w", err)
	}
	moved, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("update message status: %w", err)
	}
	slices.Sort(moved)
	return moved, nil
}

// ListMessages returns one page of a room's messages, newest first, plus the total count.
func (s *PostgresStore) ListMessages(ctx context.Context, roomID int64, page, pageSize int) ([]*store.Message, int, error) {
	var total int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM messages WHERE room_id = $1`, roomID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count messages: %w", err)
	}

	messages, err := s.queryMessages(ctx, `
		SELECT `+messageColumns+`
		FROM messages m
		LEFT JOIN users u ON u.id = m.sender_id
		WHERE m.room_id = $1
		ORDER BY m.created_at DESC, m.id DESC
		LIMIT $2 OFFSET $3
	`, roomID, pageSize, max(0, (page-1)*pageSize))
	if err != nil {
		return nil, 0, err
	}
	return messages, int(total), nil
}
