package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"slices"
	"time"

	crdbpgxv5 "github.com/cockroachdb/cockroach-go/v2/crdb/crdbpgxv5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/educonnect/backend/internal/db"
	"github.com/educonnect/backend/internal/models"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgCheckViolation      = "23514"
)

// querier is satisfied by both pooled connections and transactions.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore provides PostgreSQL-backed persistence for users and friend requests.
type PostgresStore struct {
	pool db.Pool
	now  func() time.Time
}

// NewPostgresStore constructs a store backed by PostgreSQL (or CockroachDB).
func NewPostgresStore(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, now: time.Now}
}

func (s *PostgresStore) ops(q querier) pgOps {
	return pgOps{q: q, now: s.now}
}

func (s *PostgresStore) run(ctx context.Context, fn func(pgOps) error) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	return fn(s.ops(conn))
}

// WithinTx runs fn in a single database transaction after locking the user
// rows and the request row named by scope. Serialization failures restart
// the transaction; any other error rolls it back and is returned unchanged.
func (s *PostgresStore) WithinTx(ctx context.Context, scope LockScope, fn func(ctx context.Context, tx Tx) error) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	return crdbpgxv5.ExecuteTx(ctx, conn, pgx.TxOptions{}, func(tx pgx.Tx) error {
		ops := s.ops(tx)
		if err := ops.lock(ctx, scope); err != nil {
			return err
		}
		return fn(ctx, ops)
	})
}

// CreateUser inserts a directory record. The engine never creates users; this
// is used by seeding and tests.
func (s *PostgresStore) CreateUser(ctx context.Context, user models.User) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = s.now().UTC()
	}
	if user.UpdatedAt.IsZero() {
		user.UpdatedAt = user.CreatedAt
	}

	return s.run(ctx, func(o pgOps) error {
		_, err := o.q.Exec(ctx, `
        INSERT INTO users (id, email, full_name, bio, college, branch, location, profile_pic, is_onboarded, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
    `, user.ID, user.Email, user.FullName, user.Bio, user.College, user.Branch, user.Location, user.ProfilePic, user.IsOnboarded, user.CreatedAt, user.UpdatedAt)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
				return ErrConflict
			}
			return fmt.Errorf("insert user: %w", err)
		}
		return nil
	})
}

// GetUser fetches a user together with its friend set.
func (s *PostgresStore) GetUser(ctx context.Context, id string) (models.User, error) {
	var user models.User
	err := s.run(ctx, func(o pgOps) error {
		var err error
		user, err = o.GetUser(ctx, id)
		return err
	})
	return user, err
}

// AddMutualFriend stores the friendship in both directions.
func (s *PostgresStore) AddMutualFriend(ctx context.Context, a, b string) error {
	return s.run(ctx, func(o pgOps) error {
		return o.AddMutualFriend(ctx, a, b)
	})
}

// ListOnboardedUsers streams onboarded users ordered by creation time.
func (s *PostgresStore) ListOnboardedUsers(ctx context.Context) iter.Seq2[models.User, error] {
	return func(yield func(models.User, error) bool) {
		conn, err := s.pool.Acquire(ctx)
		if err != nil {
			yield(models.User{}, fmt.Errorf("acquire connection: %w", err))
			return
		}
		defer conn.Release()

		for user, err := range s.ops(conn).ListOnboardedUsers(ctx) {
			if !yield(user, err) {
				return
			}
		}
	}
}

// CreateRequest persists a new pending friend request.
func (s *PostgresStore) CreateRequest(ctx context.Context, senderID, recipientID string) (models.FriendRequest, error) {
	var request models.FriendRequest
	err := s.run(ctx, func(o pgOps) error {
		var err error
		request, err = o.CreateRequest(ctx, senderID, recipientID)
		return err
	})
	return request, err
}

// GetRequest loads a friend request by id.
func (s *PostgresStore) GetRequest(ctx context.Context, id string) (models.FriendRequest, error) {
	var request models.FriendRequest
	err := s.run(ctx, func(o pgOps) error {
		var err error
		request, err = o.GetRequest(ctx, id)
		return err
	})
	return request, err
}

// FindRequestBetween loads the request between a and b in either direction.
func (s *PostgresStore) FindRequestBetween(ctx context.Context, a, b string) (models.FriendRequest, error) {
	var request models.FriendRequest
	err := s.run(ctx, func(o pgOps) error {
		var err error
		request, err = o.FindRequestBetween(ctx, a, b)
		return err
	})
	return request, err
}

// SetAccepted marks a pending request accepted.
func (s *PostgresStore) SetAccepted(ctx context.Context, id string) error {
	return s.run(ctx, func(o pgOps) error {
		return o.SetAccepted(ctx, id)
	})
}

// DeleteRequest removes a request permanently.
func (s *PostgresStore) DeleteRequest(ctx context.Context, id string) error {
	return s.run(ctx, func(o pgOps) error {
		return o.DeleteRequest(ctx, id)
	})
}

// ListByRecipient returns requests addressed to userID with the given status.
func (s *PostgresStore) ListByRecipient(ctx context.Context, userID string, status models.RequestStatus) ([]models.FriendRequest, error) {
	var requests []models.FriendRequest
	err := s.run(ctx, func(o pgOps) error {
		var err error
		requests, err = o.ListByRecipient(ctx, userID, status)
		return err
	})
	return requests, err
}

// ListBySender returns requests sent by userID with the given status.
func (s *PostgresStore) ListBySender(ctx context.Context, userID string, status models.RequestStatus) ([]models.FriendRequest, error) {
	var requests []models.FriendRequest
	err := s.run(ctx, func(o pgOps) error {
		var err error
		requests, err = o.ListBySender(ctx, userID, status)
		return err
	})
	return requests, err
}

// pgOps implements Tx on top of a single connection or transaction.
type pgOps struct {
	q   querier
	now func() time.Time
}

func (o pgOps) lock(ctx context.Context, scope LockScope) error {
	if len(scope.UserIDs) > 0 {
		if _, err := o.q.Exec(ctx, `
        SELECT id FROM users
        WHERE id = ANY($1)
        ORDER BY id
        FOR UPDATE
    `, scope.UserIDs); err != nil {
			return fmt.Errorf("lock users: %w", err)
		}
	}

	if scope.RequestID != "" {
		if _, err := o.q.Exec(ctx, `
        SELECT id FROM friend_requests
        WHERE id = $1
        FOR UPDATE
    `, scope.RequestID); err != nil {
			return fmt.Errorf("lock friend request: %w", err)
		}
	}

	return nil
}

func (o pgOps) GetUser(ctx context.Context, id string) (models.User, error) {
	row := o.q.QueryRow(ctx, `
        SELECT id, email, full_name, bio, college, branch, location, profile_pic, is_onboarded, created_at, updated_at
        FROM users
        WHERE id = $1
    `, id)

	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, ErrNotFound
		}
		return models.User{}, fmt.Errorf("select user: %w", err)
	}

	rows, err := o.q.Query(ctx, `
        SELECT friend_id
        FROM friendships
        WHERE user_id = $1
        ORDER BY friend_id
    `, id)
	if err != nil {
		return models.User{}, fmt.Errorf("query friendships: %w", err)
	}

	friends, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return models.User{}, fmt.Errorf("scan friendships: %w", err)
	}
	// Database collation may not match byte order; IsFriend relies on the latter.
	slices.Sort(friends)
	user.Friends = friends

	return user, nil
}

func (o pgOps) AddMutualFriend(ctx context.Context, a, b string) error {
	if a == b {
		return fmt.Errorf("add friendship %s: %w", a, ErrSelfReference)
	}

	_, err := o.q.Exec(ctx, `
        INSERT INTO friendships (user_id, friend_id, created_at)
        VALUES ($1, $2, $3), ($2, $1, $3)
        ON CONFLICT (user_id, friend_id) DO NOTHING
    `, a, b, o.now().UTC())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
			return ErrNotFound
		}
		return fmt.Errorf("insert friendship: %w", err)
	}

	return nil
}

func (o pgOps) ListOnboardedUsers(ctx context.Context) iter.Seq2[models.User, error] {
	return func(yield func(models.User, error) bool) {
		rows, err := o.q.Query(ctx, `
        SELECT id, email, full_name, bio, college, branch, location, profile_pic, is_onboarded, created_at, updated_at
        FROM users
        WHERE is_onboarded
        ORDER BY created_at, id
    `)
		if err != nil {
			yield(models.User{}, fmt.Errorf("query onboarded users: %w", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			user, err := scanUser(rows)
			if err != nil {
				yield(models.User{}, fmt.Errorf("scan user: %w", err))
				return
			}
			if !yield(user, nil) {
				return
			}
		}

		if err := rows.Err(); err != nil {
			yield(models.User{}, fmt.Errorf("iterate onboarded users: %w", err))
		}
	}
}

func (o pgOps) CreateRequest(ctx context.Context, senderID, recipientID string) (models.FriendRequest, error) {
	request := models.FriendRequest{
		ID:          uuid.NewString(),
		SenderID:    senderID,
		RecipientID: recipientID,
		Status:      models.RequestStatusPending,
		CreatedAt:   o.now().UTC(),
	}
	low, high := models.PairKey(senderID, recipientID)

	_, err := o.q.Exec(ctx, `
        INSERT INTO friend_requests (id, sender_id, recipient_id, status, pair_low, pair_high, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
    `, request.ID, request.SenderID, request.RecipientID, string(request.Status), low, high, request.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case pgUniqueViolation:
				return models.FriendRequest{}, ErrConflict
			case pgForeignKeyViolation:
				return models.FriendRequest{}, ErrNotFound
			case pgCheckViolation:
				return models.FriendRequest{}, ErrSelfReference
			}
		}
		return models.FriendRequest{}, fmt.Errorf("insert friend request: %w", err)
	}

	return request, nil
}

func (o pgOps) GetRequest(ctx context.Context, id string) (models.FriendRequest, error) {
	row := o.q.QueryRow(ctx, `
        SELECT id, sender_id, recipient_id, status, created_at, responded_at
        FROM friend_requests
        WHERE id = $1
    `, id)

	request, err := scanRequest(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.FriendRequest{}, ErrNotFound
		}
		return models.FriendRequest{}, fmt.Errorf("select friend request: %w", err)
	}
	return request, nil
}

func (o pgOps) FindRequestBetween(ctx context.Context, a, b string) (models.FriendRequest, error) {
	low, high := models.PairKey(a, b)
	row := o.q.QueryRow(ctx, `
        SELECT id, sender_id, recipient_id, status, created_at, responded_at
        FROM friend_requests
        WHERE pair_low = $1 AND pair_high = $2
    `, low, high)

	request, err := scanRequest(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.FriendRequest{}, ErrNotFound
		}
		return models.FriendRequest{}, fmt.Errorf("select friend request between users: %w", err)
	}
	return request, nil
}

func (o pgOps) SetAccepted(ctx context.Context, id string) error {
	tag, err := o.q.Exec(ctx, `
        UPDATE friend_requests
        SET status = $2, responded_at = $3
        WHERE id = $1 AND status = $4
    `, id, string(models.RequestStatusAccepted), o.now().UTC(), string(models.RequestStatusPending))
	if err != nil {
		return fmt.Errorf("update friend request: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (o pgOps) DeleteRequest(ctx context.Context, id string) error {
	tag, err := o.q.Exec(ctx, `
        DELETE FROM friend_requests
        WHERE id = $1
    `, id)
	if err != nil {
		return fmt.Errorf("delete friend request: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (o pgOps) ListByRecipient(ctx context.Context, userID string, status models.RequestStatus) ([]models.FriendRequest, error) {
	return o.listRequests(ctx, `
        SELECT id, sender_id, recipient_id, status, created_at, responded_at
        FROM friend_requests
        WHERE recipient_id = $1 AND status = $2
        ORDER BY created_at DESC, id
    `, userID, status)
}

func (o pgOps) ListBySender(ctx context.Context, userID string, status models.RequestStatus) ([]models.FriendRequest, error) {
	return o.listRequests(ctx, `
        SELECT id, sender_id, recipient_id, status, created_at, responded_at
        FROM friend_requests
        WHERE sender_id = $1 AND status = $2
        ORDER BY created_at DESC, id
    `, userID, status)
}

func (o pgOps) listRequests(ctx context.Context, query, userID string, status models.RequestStatus) ([]models.FriendRequest, error) {
	rows, err := o.q.Query(ctx, query, userID, string(status))
	if err != nil {
		return nil, fmt.Errorf("query friend requests: %w", err)
	}
	defer rows.Close()

	requests := []models.FriendRequest{}
	for rows.Next() {
		request, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan friend request: %w", err)
		}
		requests = append(requests, request)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate friend requests: %w", err)
	}

	return requests, nil
}

func scanUser(row pgx.Row) (models.User, error) {
	var user models.User
	err := row.Scan(&user.ID, &user.Email, &user.FullName, &user.Bio, &user.College, &user.Branch, &user.Location, &user.ProfilePic, &user.IsOnboarded, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return models.User{}, err
	}
	user.CreatedAt = user.CreatedAt.UTC()
	user.UpdatedAt = user.UpdatedAt.UTC()
	return user, nil
}

func scanRequest(row pgx.Row) (models.FriendRequest, error) {
	var (
		request     models.FriendRequest
		status      string
		respondedAt sql.NullTime
	)

	if err := row.Scan(&request.ID, &request.SenderID, &request.RecipientID, &status, &request.CreatedAt, &respondedAt); err != nil {
		return models.FriendRequest{}, err
	}

	request.Status = models.RequestStatus(status)
	request.CreatedAt = request.CreatedAt.UTC()
	if respondedAt.Valid {
		t := respondedAt.Time.UTC()
		request.RespondedAt = &t
	}

	return request, nil
}

var _ Store = (*PostgresStore)(nil)
var _ Tx = pgOps{}
