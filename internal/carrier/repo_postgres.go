package carrier

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"telecom-domainselection/pkg/utils"
)

// Schema creates the carrier_policies table used by PostgresRepo.
const Schema = `CREATE TABLE IF NOT EXISTS carrier_policies (
  subscription_id INT PRIMARY KEY,
  policy          JSONB NOT NULL,
  version         BIGINT NOT NULL DEFAULT 1,
  updated_at      TIMESTAMPTZ NOT NULL
)`

// PostgresRepo stores one policy document per subscription.
type PostgresRepo struct {
	db    *sql.DB
	clock func() time.Time
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db, clock: time.Now}
}

func (r *PostgresRepo) FindPolicy(ctx context.Context, subID int) (Policy, bool, error) {
	if r.db == nil {
		return Policy{}, false, errors.New("carrier: db not configured")
	}
	const q = `
SELECT policy
FROM carrier_policies
WHERE subscription_id = $1
`
	var raw []byte
	if err := r.db.QueryRowContext(ctx, q, subID).Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Policy{}, false, nil
		}
		return Policy{}, false, fmt.Errorf("carrier: find policy: %w", err)
	}
	var p Policy
	if err := json.Unmarshal(raw, &p); err != nil {
		return Policy{}, false, fmt.Errorf("carrier: decode policy: %w", err)
	}
	return p, true, nil
}

// UpsertPolicy writes the policy and bumps its version in one transaction.
func (r *PostgresRepo) UpsertPolicy(ctx context.Context, p Policy) error {
	if r.db == nil {
		return errors.New("carrier: db not configured")
	}
	if err := p.Validate(); err != nil {
		return err
	}
	p.Live = true
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("carrier: encode policy: %w", err)
	}
	now := r.clock().UTC()

	return utils.WithTx(ctx, r.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		const q = `
INSERT INTO carrier_policies (subscription_id, policy, version, updated_at)
VALUES ($1, $2, 1, $3)
ON CONFLICT (subscription_id)
DO UPDATE SET policy = EXCLUDED.policy,
              version = carrier_policies.version + 1,
              updated_at = EXCLUDED.updated_at
`
		_, err := tx.ExecContext(ctx, q, p.SubscriptionID, raw, now)
		return err
	})
}
