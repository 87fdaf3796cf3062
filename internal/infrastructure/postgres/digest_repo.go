package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ErlanBelekov/daybrief/internal/domain"
)

type DigestRepository struct {
	pool *pgxpool.Pool
}

func NewDigestRepository(pool *pgxpool.Pool) *DigestRepository {
	return &DigestRepository{pool: pool}
}

func (r *DigestRepository) Insert(ctx context.Context, d *domain.Digest) (*domain.Digest, error) {
	topics, err := json.Marshal(orEmpty(d.Topics))
	if err != nil {
		return nil, fmt.Errorf("encode topics: %w", err)
	}
	list := d.Items
	if list == nil {
		list = []domain.DigestItem{}
	}
	items, err := json.Marshal(list)
	if err != nil {
		return nil, fmt.Errorf("encode items: %w", err)
	}

	row := r.pool.QueryRow(ctx,
		`INSERT INTO digests (user_id, schedule_id, subject, topics, items, summary)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, created_at`,
		d.UserID, d.ScheduleID, d.Subject, topics, items, d.Summary,
	)
	inserted := *d
	if err := row.Scan(&inserted.ID, &inserted.CreatedAt); err != nil {
		return nil, fmt.Errorf("insert digest: %w", err)
	}
	return &inserted, nil
}

func (r *DigestRepository) ListBySchedule(ctx context.Context, userID, scheduleID string, limit int) ([]*domain.Digest, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, schedule_id, subject, topics, items, summary, created_at
		 FROM digests
		 WHERE user_id = $1 AND schedule_id = $2
		 ORDER BY created_at DESC
		 LIMIT $3`,
		userID, scheduleID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list digests: %w", err)
	}
	defer rows.Close()

	var digests []*domain.Digest
	for rows.Next() {
		d, err := scanDigest(rows)
		if err != nil {
			return nil, err
		}
		digests = append(digests, d)
	}
	return digests, rows.Err()
}

// DeleteOlderThan prunes in bounded batches so a retention sweep over a big
// backlog cannot hold a long-running delete against the table.
func (r *DigestRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM digests
		 WHERE id IN (
		 	SELECT id FROM digests
		 	WHERE created_at < $1
		 	ORDER BY created_at ASC
		 	LIMIT $2
		 )`,
		cutoff, limit,
	)
	if err != nil {
		return 0, fmt.Errorf("delete old digests: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func scanDigest(row rowScanner) (*domain.Digest, error) {
	var (
		d         domain.Digest
		rawTopics []byte
		rawItems  []byte
	)
	err := row.Scan(&d.ID, &d.UserID, &d.ScheduleID, &d.Subject, &rawTopics, &rawItems, &d.Summary, &d.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("scan digest: %w", err)
	}
	if err := json.Unmarshal(rawTopics, &d.Topics); err != nil {
		return nil, fmt.Errorf("decode digest topics: %w", err)
	}
	if err := json.Unmarshal(rawItems, &d.Items); err != nil {
		return nil, fmt.Errorf("decode digest items: %w", err)
	}
	return &d, nil
}

func orEmpty(ss []string) []string {
	if ss == nil {
		return []string{}
	}
	return ss
}
