package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meanishn/platform/internal/marketplace"
)

// Store keeps requests and offers in Postgres. Atomically holds a row lock on
// the request for the whole transaction, which serialises writers per request
// without blocking other requests.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Ping reports whether the database answers.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

type scanner interface {
	Scan(dest ...any) error
}

const requestColumns = `
	id, customer_id, category_id, tier_id, urgency, estimated_hours,
	lat, lng, address, preferred_date, status, COALESCE(assigned_provider_id, ''),
	assigned_at, provider_accepted_at, customer_confirmed_at, started_at,
	completed_at, cancelled_at, cancel_reason, match_rounds, created_at, updated_at`

const offerColumns = `
	request_id, provider_id, match_score, rank, distance_miles, status, selected,
	declined_by, decline_reason, round, notified_at, responded_at, expires_at`

func scanRequest(row scanner) (*marketplace.ServiceRequest, error) {
	var r marketplace.ServiceRequest
	err := row.Scan(
		&r.ID, &r.CustomerID, &r.CategoryID, &r.TierID, &r.Urgency, &r.EstimatedHours,
		&r.Location.Lat, &r.Location.Lng, &r.Location.Address, &r.PreferredDate, &r.Status, &r.AssignedProviderID,
		&r.AssignedAt, &r.ProviderAcceptedAt, &r.CustomerConfirmedAt, &r.StartedAt,
		&r.CompletedAt, &r.CancelledAt, &r.CancelReason, &r.MatchRounds, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func scanOffer(row scanner) (*marketplace.Offer, error) {
	var o marketplace.Offer
	err := row.Scan(
		&o.RequestID, &o.ProviderID, &o.MatchScore, &o.Rank, &o.Distance, &o.Status, &o.Selected,
		&o.DeclinedBy, &o.DeclineReason, &o.Round, &o.NotifiedAt, &o.RespondedAt, &o.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *Store) CreateRequest(ctx context.Context, r *marketplace.ServiceRequest) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO service_requests (
			id, customer_id, category_id, tier_id, urgency, estimated_hours,
			lat, lng, address, preferred_date, status, match_rounds, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		r.ID, r.CustomerID, r.CategoryID, r.TierID, r.Urgency, r.EstimatedHours,
		r.Location.Lat, r.Location.Lng, r.Location.Address, r.PreferredDate, r.Status, r.MatchRounds,
		r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert request %s: %w", r.ID, err)
	}
	return nil
}

func (s *Store) GetRequest(ctx context.Context, requestID string) (*marketplace.ServiceRequest, error) {
	r, err := scanRequest(s.pool.QueryRow(ctx, `SELECT `+requestColumns+` FROM service_requests WHERE id = $1`, requestID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("request %s: %w", requestID, marketplace.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get request %s: %w", requestID, err)
	}
	return r, nil
}

func queryOffers(ctx context.Context, q pgxQuerier, sql string, args ...any) ([]*marketplace.Offer, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*marketplace.Offer
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

type pgxQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (s *Store) ListOffers(ctx context.Context, requestID string) ([]*marketplace.Offer, error) {
	if _, err := s.GetRequest(ctx, requestID); err != nil {
		return nil, err
	}
	offers, err := queryOffers(ctx, s.pool,
		`SELECT `+offerColumns+` FROM offers WHERE request_id = $1 ORDER BY rank, provider_id`, requestID)
	if err != nil {
		return nil, fmt.Errorf("list offers %s: %w", requestID, err)
	}
	return offers, nil
}

func (s *Store) OffersForProvider(ctx context.Context, providerID string) ([]*marketplace.Offer, error) {
	offers, err := queryOffers(ctx, s.pool,
		`SELECT `+offerColumns+` FROM offers WHERE provider_id = $1 ORDER BY notified_at DESC, request_id`, providerID)
	if err != nil {
		return nil, fmt.Errorf("offers for provider %s: %w", providerID, err)
	}
	return offers, nil
}

func (s *Store) ExpiredOffers(ctx context.Context, now time.Time, limit int) ([]marketplace.OfferKey, error) {
	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := s.pool.Query(ctx, `
		SELECT request_id, provider_id FROM offers
		WHERE status = 'notified' AND expires_at <= $1
		ORDER BY expires_at, request_id, provider_id
		LIMIT $2`, now, lim)
	if err != nil {
		return nil, fmt.Errorf("expired offers: %w", err)
	}
	defer rows.Close()

	var out []marketplace.OfferKey
	for rows.Next() {
		var k marketplace.OfferKey
		if err := rows.Scan(&k.RequestID, &k.ProviderID); err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

// Atomically locks the request row, loads its offers, runs fn and writes back
// whatever fn changed. A non-nil error from fn rolls the transaction back.
func (s *Store) Atomically(ctx context.Context, requestID string, fn func(*marketplace.Assignment) error) (err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		} else {
			err = tx.Commit(ctx)
		}
	}()

	req, err := scanRequest(tx.QueryRow(ctx,
		`SELECT `+requestColumns+` FROM service_requests WHERE id = $1 FOR UPDATE`, requestID))
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("request %s: %w", requestID, marketplace.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("lock request %s: %w", requestID, err)
	}
	offers, err := queryOffers(ctx, tx,
		`SELECT `+offerColumns+` FROM offers WHERE request_id = $1 ORDER BY rank, provider_id`, requestID)
	if err != nil {
		return fmt.Errorf("load offers %s: %w", requestID, err)
	}

	a := &marketplace.Assignment{Request: req, Offers: offers}
	before := a.Clone()
	if err = fn(a); err != nil {
		return err
	}
	return persist(ctx, tx, before, a)
}

func persist(ctx context.Context, tx pgx.Tx, before, after *marketplace.Assignment) error {
	batch := &pgx.Batch{}

	if !sameRequest(before.Request, after.Request) {
		r := after.Request
		batch.Queue(`
			UPDATE service_requests SET
				status = $2, assigned_provider_id = NULLIF($3, ''), assigned_at = $4,
				provider_accepted_at = $5, customer_confirmed_at = $6, started_at = $7,
				completed_at = $8, cancelled_at = $9, cancel_reason = $10,
				match_rounds = $11, updated_at = $12
			WHERE id = $1`,
			r.ID, r.Status, r.AssignedProviderID, r.AssignedAt,
			r.ProviderAcceptedAt, r.CustomerConfirmedAt, r.StartedAt,
			r.CompletedAt, r.CancelledAt, r.CancelReason,
			r.MatchRounds, r.UpdatedAt,
		)
	}

	prev := make(map[string]marketplace.Offer, len(before.Offers))
	for _, o := range before.Offers {
		prev[o.ProviderID] = *o
	}
	for _, o := range after.Offers {
		if p, ok := prev[o.ProviderID]; ok && sameOffer(&p, o) {
			continue
		}
		batch.Queue(`
			INSERT INTO offers (`+offerColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
			ON CONFLICT (request_id, provider_id) DO UPDATE SET
				match_score = EXCLUDED.match_score, rank = EXCLUDED.rank,
				distance_miles = EXCLUDED.distance_miles, status = EXCLUDED.status,
				selected = EXCLUDED.selected, declined_by = EXCLUDED.declined_by,
				decline_reason = EXCLUDED.decline_reason, round = EXCLUDED.round,
				notified_at = EXCLUDED.notified_at, responded_at = EXCLUDED.responded_at,
				expires_at = EXCLUDED.expires_at`,
			o.RequestID, o.ProviderID, o.MatchScore, o.Rank, o.Distance, o.Status, o.Selected,
			o.DeclinedBy, o.DeclineReason, o.Round, o.NotifiedAt, o.RespondedAt, o.ExpiresAt,
		)
	}

	if batch.Len() == 0 {
		return nil
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("persist request %s: %w", after.Request.ID, err)
	}
	return nil
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func sameRequest(a, b *marketplace.ServiceRequest) bool {
	return a.Status == b.Status &&
		a.AssignedProviderID == b.AssignedProviderID &&
		sameTime(a.AssignedAt, b.AssignedAt) &&
		sameTime(a.ProviderAcceptedAt, b.ProviderAcceptedAt) &&
		sameTime(a.CustomerConfirmedAt, b.CustomerConfirmedAt) &&
		sameTime(a.StartedAt, b.StartedAt) &&
		sameTime(a.CompletedAt, b.CompletedAt) &&
		sameTime(a.CancelledAt, b.CancelledAt) &&
		a.CancelReason == b.CancelReason &&
		a.MatchRounds == b.MatchRounds &&
		a.UpdatedAt.Equal(b.UpdatedAt)
}

func sameOffer(a, b *marketplace.Offer) bool {
	return a.MatchScore == b.MatchScore &&
		a.Rank == b.Rank &&
		a.Distance == b.Distance &&
		a.Status == b.Status &&
		a.Selected == b.Selected &&
		a.DeclinedBy == b.DeclinedBy &&
		a.DeclineReason == b.DeclineReason &&
		a.Round == b.Round &&
		a.NotifiedAt.Equal(b.NotifiedAt) &&
		sameTime(a.RespondedAt, b.RespondedAt) &&
		a.ExpiresAt.Equal(b.ExpiresAt)
}
