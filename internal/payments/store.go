package payments

import (
  "context"

  "github.com/jackc/pgx/v5/pgtype"
  "github.com/jackc/pgx/v5/pgxpool"
)

// Payment history is optional: a nil pool disables it. The in-memory
// map stays the source of truth for live payments.

func ensurePaymentSchema(ctx context.Context, db *pgxpool.Pool) error {
  if db == nil {
    return nil
  }
  _, err := db.Exec(ctx, `
create table if not exists payments (
  payment_id text primary key,
  wallet_id text null,
  payment_hash text null,
  invoice text not null,
  amount_sat bigint not null,
  fee_sat bigint not null default 0,
  status text not null,
  retry_count int not null default 0,
  peer_id text null,
  error text null,
  created_at timestamptz not null,
  updated_at timestamptz not null
);
`)
  return err
}

func (e *Engine) insertHistory(ctx context.Context, p Payment) {
  if e.db == nil {
    return
  }
  _, err := e.db.Exec(ctx, `
insert into payments (payment_id, wallet_id, invoice, amount_sat, status, retry_count, created_at, updated_at)
values ($1,$2,$3,$4,$5,$6,$7,$8)
on conflict (payment_id) do nothing
`, p.PaymentID, nullable(p.WalletID), p.Invoice, int64(p.AmountSat), string(p.Status), int32(p.RetryCount), p.CreatedAt, p.UpdatedAt)
  if err != nil && e.logger != nil {
    e.logger.Printf("payment history insert failed: %v", err)
  }
}

func (e *Engine) updateHistory(ctx context.Context, p Payment) {
  if e.db == nil {
    return
  }
  _, err := e.db.Exec(ctx, `
update payments
set payment_hash=$2, fee_sat=$3, status=$4, retry_count=$5, peer_id=$6, error=$7, updated_at=$8
where payment_id=$1
`, p.PaymentID, nullable(p.PaymentHash), int64(p.FeeSat), string(p.Status), int32(p.RetryCount),
    nullable(p.PeerID), nullable(p.Error), p.UpdatedAt)
  if err != nil && e.logger != nil {
    e.logger.Printf("payment history update failed: %v", err)
  }
}

// FetchPaymentHistory returns the most recent settled and in-flight
// payments from the database, newest first.
func FetchPaymentHistory(ctx context.Context, db *pgxpool.Pool, limit int) ([]Payment, error) {
  if db == nil {
    return nil, nil
  }
  if limit <= 0 {
    limit = 100
  }
  rows, err := db.Query(ctx, `
select payment_id, wallet_id, payment_hash, invoice, amount_sat, fee_sat, status, retry_count, peer_id, error, created_at, updated_at
from payments
order by created_at desc
limit $1
`, limit)
  if err != nil {
    return nil, err
  }
  defer rows.Close()

  var items []Payment
  for rows.Next() {
    var p Payment
    var wallet, hash, peer, errText pgtype.Text
    var amount, fee int64
    var status string
    var retries int32
    if err := rows.Scan(&p.PaymentID, &wallet, &hash, &p.Invoice, &amount, &fee, &status, &retries, &peer, &errText, &p.CreatedAt, &p.UpdatedAt); err != nil {
      return nil, err
    }
    if wallet.Valid {
      p.WalletID = wallet.String
    }
    p.AmountSat = uint64(amount)
    p.FeeSat = uint64(fee)
    p.Status = Status(status)
    p.RetryCount = uint32(retries)
    if hash.Valid {
      p.PaymentHash = hash.String
    }
    if peer.Valid {
      p.PeerID = peer.String
    }
    if errText.Valid {
      p.Error = errText.String
    }
    items = append(items, p)
  }
  return items, rows.Err()
}

func nullable(value string) any {
  if value == "" {
    return nil
  }
  return value
}
