package rebalance

import (
  "context"
  "time"

  "github.com/jackc/pgx/v5/pgtype"
  "github.com/jackc/pgx/v5/pgxpool"
)

// History is optional: a nil pool disables it, matching the in-memory
// operation log being the source of truth.

func EnsureSchema(ctx context.Context, db *pgxpool.Pool) error {
  if db == nil {
    return nil
  }
  _, err := db.Exec(ctx, `
create table if not exists rebalance_operations (
  operation_id text primary key,
  from_channel text not null,
  to_channel text not null,
  amount_sat bigint not null,
  status text not null,
  reason text null,
  created_at timestamptz not null,
  completed_at timestamptz null
);
`)
  return err
}

func (r *Rebalancer) insertHistory(ctx context.Context, op Operation) {
  if r.db == nil {
    return
  }
  _, err := r.db.Exec(ctx, `
insert into rebalance_operations (operation_id, from_channel, to_channel, amount_sat, status, created_at)
values ($1,$2,$3,$4,$5,$6)
on conflict (operation_id) do nothing
`, op.OperationID, op.FromChannel, op.ToChannel, int64(op.AmountSat), string(op.Status), op.CreatedAt)
  if err != nil && r.logger != nil {
    r.logger.Printf("rebalance history insert failed: %v", err)
  }
}

func (r *Rebalancer) finishHistory(ctx context.Context, operationID string, status Status, reason string) {
  if r.db == nil {
    return
  }
  _, err := r.db.Exec(ctx, `
update rebalance_operations
set status=$2, reason=$3, completed_at=$4
where operation_id=$1
`, operationID, string(status), nullableString(reason), time.Now().UTC())
  if err != nil && r.logger != nil {
    r.logger.Printf("rebalance history update failed: %v", err)
  }
}

func FetchHistory(ctx context.Context, db *pgxpool.Pool, limit int) ([]Operation, error) {
  if db == nil {
    return nil, nil
  }
  if limit <= 0 {
    limit = 100
  }
  rows, err := db.Query(ctx, `
select operation_id, from_channel, to_channel, amount_sat, status, reason, created_at, completed_at
from rebalance_operations
order by created_at desc
limit $1
`, limit)
  if err != nil {
    return nil, err
  }
  defer rows.Close()

  var items []Operation
  for rows.Next() {
    var op Operation
    var amount int64
    var status string
    var reason pgtype.Text
    var completed pgtype.Timestamptz
    if err := rows.Scan(&op.OperationID, &op.FromChannel, &op.ToChannel, &amount, &status, &reason, &op.CreatedAt, &completed); err != nil {
      return nil, err
    }
    op.AmountSat = uint64(amount)
    op.Status = Status(status)
    if reason.Valid {
      op.Reason = reason.String
    }
    if completed.Valid {
      at := completed.Time
      op.CompletedAt = &at
    }
    items = append(items, op)
  }
  return items, rows.Err()
}

func nullableString(value string) any {
  if value == "" {
    return nil
  }
  return value
}
