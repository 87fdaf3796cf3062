package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ErlanBelekov/daybrief/internal/domain"
)

// rowScanner is satisfied by both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

type UserRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

func (r *UserRepository) Upsert(ctx context.Context, id, email string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO users (id, email) VALUES ($1, $2)
		 ON CONFLICT (id) DO UPDATE
		 SET email = EXCLUDED.email, updated_at = NOW()
		 WHERE users.email IS DISTINCT FROM EXCLUDED.email`,
		id, email,
	)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, email, timezone, digests, version, created_at, updated_at
		 FROM users WHERE id = $1`,
		id,
	)
	return scanUser(row)
}

// Update is the compare-and-swap write every save funnels through: the row
// is replaced only when its stored version still matches u.Version.
func (r *UserRepository) Update(ctx context.Context, u *domain.User) error {
	digests := u.Digests
	if digests == nil {
		digests = []domain.DigestSchedule{}
	}
	raw, err := json.Marshal(digests)
	if err != nil {
		return fmt.Errorf("encode digests: %w", err)
	}

	tag, err := r.pool.Exec(ctx,
		`UPDATE users
		 SET timezone = $2, digests = $3, version = version + 1, updated_at = NOW()
		 WHERE id = $1 AND version = $4`,
		u.ID, u.Timezone, raw, u.Version,
	)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Zero rows is ambiguous: either the version moved or the row is
		// gone. One extra read tells them apart.
		if _, err := r.GetByID(ctx, u.ID); err != nil {
			return err
		}
		return domain.ErrVersionConflict
	}
	u.Version++
	return nil
}

func (r *UserRepository) ListDigestCandidates(ctx context.Context) ([]*domain.User, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, email, timezone, digests, version, created_at, updated_at
		 FROM users
		 WHERE jsonb_array_length(digests) > 0
		 ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("list digest candidates: %w", err)
	}
	defer rows.Close()

	var users []*domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func scanUser(row rowScanner) (*domain.User, error) {
	var (
		u   domain.User
		raw []byte
	)
	err := row.Scan(&u.ID, &u.Email, &u.Timezone, &raw, &u.Version, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	if err := json.Unmarshal(raw, &u.Digests); err != nil {
		return nil, fmt.Errorf("decode digests for user %s: %w", u.ID, err)
	}
	return &u, nil
}
