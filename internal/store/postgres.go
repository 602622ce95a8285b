package store

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mossy-p/call-signaling/internal/models"
	"github.com/pkg/errors"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id         BIGSERIAL PRIMARY KEY,
	name       TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS rooms (
	id               TEXT PRIMARY KEY,
	name             TEXT NOT NULL DEFAULT '',
	is_active        BOOLEAN NOT NULL DEFAULT TRUE,
	max_participants INTEGER NOT NULL DEFAULT 10,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS room_members (
	room_id   TEXT NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
	user_id   BIGINT NOT NULL,
	joined_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (room_id, user_id)
);

CREATE TABLE IF NOT EXISTS calls (
	id         BIGSERIAL PRIMARY KEY,
	room_id    TEXT NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
	caller_id  BIGINT NOT NULL,
	status     TEXT NOT NULL,
	started_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	ended_at   TIMESTAMPTZ,
	duration   INTEGER
);

CREATE INDEX IF NOT EXISTS calls_room_status_idx ON calls (room_id, status);

CREATE TABLE IF NOT EXISTS call_participants (
	call_id   BIGINT NOT NULL REFERENCES calls(id) ON DELETE CASCADE,
	user_id   BIGINT NOT NULL,
	joined_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	left_at   TIMESTAMPTZ,
	duration  INTEGER,
	PRIMARY KEY (call_id, user_id)
);
`

// Postgres implements the room, call and user services on a pgx pool
type Postgres struct {
	pool *pgxpool.Pool
}

// Connect opens a pool for databaseURL and verifies it with a ping.
func Connect(ctx context.Context, databaseURL string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create postgres pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "failed to connect to postgres")
	}
	return &Postgres{pool: pool}, nil
}

// Migrate creates the tables if they do not exist.
func (p *Postgres) Migrate(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, schema)
	return errors.Wrap(err, "failed to apply schema")
}

func (p *Postgres) Close() {
	p.pool.Close()
}

func (p *Postgres) DisplayName(ctx context.Context, userID int64) (string, error) {
	var name string
	err := p.pool.QueryRow(ctx, `SELECT name FROM users WHERE id = $1`, userID).Scan(&name)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", errors.Wrapf(ErrNotFound, "user %d", userID)
	}
	if err != nil {
		return "", errors.Wrap(err, "failed to load user")
	}
	return name, nil
}

func (p *Postgres) JoinRoom(ctx context.Context, roomID string, userID int64) error {
	if roomID == "" {
		return errors.Wrap(ErrValidation, "room id cannot be empty")
	}
	room, err := p.room(ctx, p.pool, roomID)
	if err != nil {
		return err
	}
	if !room.IsActive {
		return errors.Wrapf(ErrValidation, "room %s is not active", roomID)
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO room_members (room_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT (room_id, user_id) DO NOTHING`, roomID, userID)
	return errors.Wrap(err, "failed to join room")
}

func (p *Postgres) LeaveRoom(ctx context.Context, roomID string, userID int64) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM room_members WHERE room_id = $1 AND user_id = $2`, roomID, userID)
	return errors.Wrap(err, "failed to leave room")
}

func (p *Postgres) ActiveCallsByRoom(ctx context.Context, roomID string) ([]models.Call, error) {
	if _, err := p.room(ctx, p.pool, roomID); err != nil {
		return nil, err
	}
	rows, err := p.pool.Query(ctx, `
		SELECT id, room_id, caller_id, status, started_at, ended_at, duration
		FROM calls
		WHERE room_id = $1 AND status = $2
		ORDER BY started_at DESC`, roomID, models.CallStatusActive)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query calls")
	}
	calls, err := pgx.CollectRows(rows, pgx.RowToStructByName[models.Call])
	return calls, errors.Wrap(err, "failed to scan calls")
}

func (p *Postgres) CreateCall(ctx context.Context, roomID string, callerID int64, status models.CallStatus) (models.Call, error) {
	if roomID == "" {
		return models.Call{}, errors.Wrap(ErrValidation, "room id cannot be empty")
	}
	if status != models.CallStatusActive && status != models.CallStatusInitiated {
		return models.Call{}, errors.Wrap(ErrValidation, "call status must be either 'active' or 'initiated'")
	}

	var call models.Call
	err := pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		room, err := p.room(ctx, tx, roomID)
		if err != nil {
			return err
		}
		if !room.IsActive {
			return errors.Wrapf(ErrValidation, "room %s is not active", roomID)
		}
		member, err := isMember(ctx, tx, roomID, callerID)
		if err != nil {
			return err
		}
		if !member {
			return errors.Wrapf(ErrForbidden, "user %d is not a member of room %s", callerID, roomID)
		}

		rows, err := tx.Query(ctx, `
			INSERT INTO calls (room_id, caller_id, status)
			VALUES ($1, $2, $3)
			RETURNING id, room_id, caller_id, status, started_at, ended_at, duration`, roomID, callerID, status)
		if err != nil {
			return errors.Wrap(err, "failed to insert call")
		}
		call, err = pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[models.Call])
		if err != nil {
			return errors.Wrap(err, "failed to scan call")
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO call_participants (call_id, user_id)
			VALUES ($1, $2)
			ON CONFLICT (call_id, user_id) DO NOTHING`, call.ID, callerID)
		return errors.Wrap(err, "failed to add caller")
	})
	return call, err
}

func (p *Postgres) AddParticipant(ctx context.Context, callID, userID int64) error {
	return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		var (
			roomID string
			status models.CallStatus
			limit  int
		)
		err := tx.QueryRow(ctx, `
			SELECT c.room_id, c.status, r.max_participants
			FROM calls c JOIN rooms r ON r.id = c.room_id
			WHERE c.id = $1
			FOR UPDATE OF c`, callID).Scan(&roomID, &status, &limit)
		if errors.Is(err, pgx.ErrNoRows) {
			return errors.Wrapf(ErrNotFound, "call %d", callID)
		}
		if err != nil {
			return errors.Wrap(err, "failed to load call")
		}
		if status != models.CallStatusActive {
			return errors.Wrapf(ErrValidation, "cannot add participant to non-active call %d", callID)
		}
		member, err := isMember(ctx, tx, roomID, userID)
		if err != nil {
			return err
		}
		if !member {
			return errors.Wrapf(ErrForbidden, "user %d is not a member of room %s", userID, roomID)
		}

		var active bool
		err = tx.QueryRow(ctx, `
			SELECT EXISTS (SELECT 1 FROM call_participants WHERE call_id = $1 AND user_id = $2 AND left_at IS NULL)`,
			callID, userID).Scan(&active)
		if err != nil {
			return errors.Wrap(err, "failed to check participant")
		}
		if active {
			return nil
		}

		count, err := countActive(ctx, tx, callID)
		if err != nil {
			return err
		}
		if count >= int64(limit) {
			return errors.Wrapf(ErrValidation, "call %d has reached the room's participant limit (%d)", callID, limit)
		}

		// A user who left may come back; reopen the row instead of ignoring the insert.
		_, err = tx.Exec(ctx, `
			INSERT INTO call_participants (call_id, user_id)
			VALUES ($1, $2)
			ON CONFLICT (call_id, user_id) DO UPDATE
			SET joined_at = now(), left_at = NULL, duration = NULL`, callID, userID)
		return errors.Wrap(err, "failed to add participant")
	})
}

func (p *Postgres) RemoveParticipant(ctx context.Context, callID, userID int64) error {
	return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE call_participants
			SET left_at = now(),
			    duration = EXTRACT(EPOCH FROM (now() - joined_at))::INTEGER
			WHERE call_id = $1 AND user_id = $2 AND left_at IS NULL`, callID, userID)
		if err != nil {
			return errors.Wrap(err, "failed to remove participant")
		}
		if tag.RowsAffected() == 0 {
			return errors.Wrapf(ErrNotFound, "user %d is not a participant in call %d", userID, callID)
		}

		remaining, err := countActive(ctx, tx, callID)
		if err != nil {
			return err
		}
		if remaining > 0 {
			return nil
		}
		_, err = tx.Exec(ctx, `
			UPDATE calls
			SET status = $2,
			    ended_at = now(),
			    duration = EXTRACT(EPOCH FROM (now() - started_at))::INTEGER
			WHERE id = $1`, callID, models.CallStatusEnded)
		return errors.Wrap(err, "failed to end call")
	})
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (p *Postgres) room(ctx context.Context, q querier, roomID string) (models.Room, error) {
	var r models.Room
	err := q.QueryRow(ctx, `
		SELECT id, name, is_active, max_participants, created_at
		FROM rooms WHERE id = $1`, roomID).Scan(&r.ID, &r.Name, &r.IsActive, &r.MaxParticipants, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Room{}, errors.Wrapf(ErrNotFound, "room %s", roomID)
	}
	if err != nil {
		return models.Room{}, errors.Wrap(err, "failed to load room")
	}
	return r, nil
}

func isMember(ctx context.Context, q querier, roomID string, userID int64) (bool, error) {
	var member bool
	err := q.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM room_members WHERE room_id = $1 AND user_id = $2)`,
		roomID, userID).Scan(&member)
	return member, errors.Wrap(err, "failed to check room membership")
}

func countActive(ctx context.Context, q querier, callID int64) (int64, error) {
	var n int64
	err := q.QueryRow(ctx, `
		SELECT COUNT(*) FROM call_participants WHERE call_id = $1 AND left_at IS NULL`, callID).Scan(&n)
	return n, errors.Wrap(err, "failed to count participants")
}
