package store

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	"hookrelay/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var (
	ErrFailedToOpenDB          = errors.New("failed to open postgres pool")
	ErrFailedToApplyMigrations = errors.New("failed to apply migrations")
)

type Postgres struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

type PostgresOption func(*Postgres)

func WithPostgresLogger(l *zap.Logger) PostgresOption {
	return func(p *Postgres) { p.log = l }
}

// NewPostgres opens a pgx pool for dsn and verifies it with a ping.
func NewPostgres(ctx context.Context, dsn string, maxConns int32, opts ...PostgresOption) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, errors.Join(ErrFailedToOpenDB, err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, errors.Join(ErrFailedToOpenDB, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Join(ErrFailedToOpenDB, err)
	}
	p := &Postgres{pool: pool, log: zap.NewNop()}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func (p *Postgres) Close() { p.pool.Close() }

func (p *Postgres) Ping(ctx context.Context) error { return p.pool.Ping(ctx) }

// Migrate applies the embedded goose migrations.
func (p *Postgres) Migrate(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(p.pool)
	defer func() {
		if err := db.Close(); err != nil {
			p.log.Warn("close migration db", zap.Error(err))
		}
	}()

	goose.SetBaseFS(migrationsFS)
	goose.SetLogger(gooseLogger{p.log.Sugar()})
	if err := goose.SetDialect("postgres"); err != nil {
		return errors.Join(ErrFailedToApplyMigrations, err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return errors.Join(ErrFailedToApplyMigrations, err)
	}
	return nil
}

// gooseLogger routes goose output through zap; Fatalf must not exit the process.
type gooseLogger struct{ s *zap.SugaredLogger }

func (g gooseLogger) Fatalf(format string, v ...any) { g.s.Errorf(format, v...) }
func (g gooseLogger) Printf(format string, v ...any) { g.s.Infof(format, v...) }

const subscriptionColumns = `id::text, owner_id, trigger_type, webhook_url, secret, active,
	success_count, failure_count, last_triggered_at, COALESCE(last_error, ''),
	COALESCE(disabled_reason, ''), disabled_at, created_at, updated_at`

func scanSubscription(row pgx.Row) (model.Subscription, error) {
	var s model.Subscription
	err := row.Scan(&s.ID, &s.OwnerID, &s.TriggerType, &s.WebhookURL, &s.Secret, &s.Active,
		&s.SuccessCount, &s.FailureCount, &s.LastTriggeredAt, &s.LastError,
		&s.DisabledReason, &s.DisabledAt, &s.CreatedAt, &s.UpdatedAt)
	return s, err
}

func collectSubscriptions(rows pgx.Rows) ([]model.Subscription, error) {
	defer rows.Close()
	out := []model.Subscription{}
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *Postgres) CreateSubscription(ctx context.Context, sub model.Subscription) (model.Subscription, error) {
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}
	sub.UpdatedAt = sub.CreatedAt
	_, err := p.pool.Exec(ctx, `INSERT INTO webhook_subscriptions
		(id, owner_id, trigger_type, webhook_url, secret, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$7)`,
		sub.ID, sub.OwnerID, sub.TriggerType, sub.WebhookURL, sub.Secret, sub.Active, sub.CreatedAt)
	if err != nil {
		return model.Subscription{}, fmt.Errorf("insert subscription: %w", err)
	}
	return sub, nil
}

func (p *Postgres) GetSubscription(ctx context.Context, id string) (model.Subscription, error) {
	if _, err := uuid.Parse(id); err != nil {
		return model.Subscription{}, ErrNotFound
	}
	s, err := scanSubscription(p.pool.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM webhook_subscriptions WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Subscription{}, ErrNotFound
	}
	return s, err
}

func (p *Postgres) ListSubscriptions(ctx context.Context, ownerID string) ([]model.Subscription, error) {
	rows, err := p.pool.Query(ctx, `SELECT `+subscriptionColumns+` FROM webhook_subscriptions
		WHERE owner_id=$1 ORDER BY created_at DESC, id`, ownerID)
	if err != nil {
		return nil, err
	}
	return collectSubscriptions(rows)
}

func (p *Postgres) ActiveSubscriptions(ctx context.Context, ownerID, triggerType string) ([]model.Subscription, error) {
	rows, err := p.pool.Query(ctx, `SELECT `+subscriptionColumns+` FROM webhook_subscriptions
		WHERE owner_id=$1 AND trigger_type=$2 AND active ORDER BY created_at DESC, id`, ownerID, triggerType)
	if err != nil {
		return nil, err
	}
	return collectSubscriptions(rows)
}

func (p *Postgres) DeleteActiveSubscription(ctx context.Context, id, ownerID string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrNotFound
	}
	tag, err := p.pool.Exec(ctx,
		`DELETE FROM webhook_subscriptions WHERE id=$1 AND owner_id=$2 AND active`, id, ownerID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) DisableSubscription(ctx context.Context, id, reason string, at time.Time) error {
	return p.execOne(ctx, `UPDATE webhook_subscriptions
		SET active=false, disabled_reason=$2, disabled_at=$3, updated_at=$3 WHERE id=$1`, id, reason, at)
}

func (p *Postgres) RecordSuccess(ctx context.Context, id string, at time.Time) error {
	return p.execOne(ctx, `UPDATE webhook_subscriptions
		SET success_count=success_count+1, last_error=NULL, last_triggered_at=$2, updated_at=$2
		WHERE id=$1`, id, at)
}

func (p *Postgres) RecordFailure(ctx context.Context, id, lastError string, at time.Time) error {
	return p.execOne(ctx, `UPDATE webhook_subscriptions
		SET failure_count=failure_count+1, last_error=$2, last_triggered_at=$3, updated_at=$3
		WHERE id=$1`, id, lastError, at)
}

func (p *Postgres) execOne(ctx context.Context, sql string, args ...any) error {
	tag, err := p.pool.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) InsertAttempt(ctx context.Context, a model.DeliveryAttempt) (string, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	if a.Status == "" {
		a.Status = model.AttemptPending
	}
	_, err := p.pool.Exec(ctx, `INSERT INTO webhook_delivery_attempts
		(id, subscription_id, delivery_id, trigger_type, attempt_number, payload, status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6::json,$7,$8)`,
		a.ID, a.SubscriptionID, a.DeliveryID, a.TriggerType, a.AttemptNumber, string(a.Payload), string(a.Status), a.CreatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("insert attempt: %w", err)
	}
	return a.ID, nil
}

func (p *Postgres) CompleteAttempt(ctx context.Context, id string, out model.AttemptOutcome) error {
	tag, err := p.pool.Exec(ctx, `UPDATE webhook_delivery_attempts
		SET status=$2, http_status_code=$3, response_body=$4, error_message=$5, delivered_at=$6, duration_ms=$7
		WHERE id=$1 AND status='pending'`,
		id, string(out.Status), out.HTTPStatusCode, nullIfEmpty(truncateBody(out.ResponseBody)),
		nullIfEmpty(out.ErrorMessage), out.DeliveredAt, out.DurationMs)
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	var exists bool
	if err := p.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM webhook_delivery_attempts WHERE id=$1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return ErrAttemptFinalized
}

func (p *Postgres) RecentAttempts(ctx context.Context, subscriptionID string, limit int) ([]model.DeliveryAttempt, error) {
	return p.ListAttempts(ctx, subscriptionID, "", limit)
}

func (p *Postgres) ListAttempts(ctx context.Context, subscriptionID string, status model.AttemptStatus, limit int) ([]model.DeliveryAttempt, error) {
	if _, err := uuid.Parse(subscriptionID); err != nil {
		return []model.DeliveryAttempt{}, nil
	}
	rows, err := p.pool.Query(ctx, `SELECT id::text, subscription_id::text, delivery_id::text, trigger_type,
		attempt_number, payload::text, status, http_status_code, COALESCE(response_body, ''),
		COALESCE(error_message, ''), created_at, delivered_at, duration_ms
		FROM webhook_delivery_attempts
		WHERE subscription_id=$1 AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC, seq DESC LIMIT $3`,
		subscriptionID, string(status), clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.DeliveryAttempt{}
	for rows.Next() {
		var (
			a       model.DeliveryAttempt
			payload string
			st      string
		)
		if err := rows.Scan(&a.ID, &a.SubscriptionID, &a.DeliveryID, &a.TriggerType, &a.AttemptNumber,
			&payload, &st, &a.HTTPStatusCode, &a.ResponseBody, &a.ErrorMessage,
			&a.CreatedAt, &a.DeliveredAt, &a.DurationMs); err != nil {
			return nil, err
		}
		a.Payload = []byte(payload)
		a.Status = model.AttemptStatus(st)
		out = append(out, a)
	}
	return out, rows.Err()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
