package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meanishn/platform/internal/marketplace"
)

// Directory reads providers and their category qualifications.
type Directory struct {
	pool *pgxpool.Pool
}

func NewDirectory(pool *pgxpool.Pool) *Directory {
	return &Directory{pool: pool}
}

const providerColumns = `p.id, p.name, p.lat, p.lng, p.address, p.available, p.rating, p.completion_rate`

func scanProvider(row scanner) (marketplace.Provider, error) {
	var p marketplace.Provider
	err := row.Scan(&p.ID, &p.Name, &p.Location.Lat, &p.Location.Lng, &p.Location.Address,
		&p.Available, &p.Rating, &p.CompletionRate)
	return p, err
}

func (d *Directory) qualifications(ctx context.Context, ids []string) (map[string][]marketplace.Qualification, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT provider_id, category_id, strength FROM provider_qualifications
		WHERE provider_id = ANY($1)
		ORDER BY provider_id, category_id`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]marketplace.Qualification, len(ids))
	for rows.Next() {
		var id string
		var q marketplace.Qualification
		if err := rows.Scan(&id, &q.CategoryID, &q.Strength); err != nil {
			return nil, err
		}
		out[id] = append(out[id], q)
	}
	return out, rows.Err()
}

func (d *Directory) ProvidersForCategory(ctx context.Context, categoryID string) ([]marketplace.Provider, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT `+providerColumns+` FROM providers p
		JOIN provider_qualifications q ON q.provider_id = p.id
		WHERE q.category_id = $1
		ORDER BY p.id`, categoryID)
	if err != nil {
		return nil, fmt.Errorf("providers for %s: %w", categoryID, err)
	}
	var out []marketplace.Provider
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}

	ids := make([]string, len(out))
	for i, p := range out {
		ids[i] = p.ID
	}
	quals, err := d.qualifications(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("qualifications: %w", err)
	}
	for i := range out {
		out[i].Qualifications = quals[out[i].ID]
	}
	return out, nil
}

func (d *Directory) GetProvider(ctx context.Context, providerID string) (*marketplace.Provider, error) {
	p, err := scanProvider(d.pool.QueryRow(ctx, `SELECT `+providerColumns+` FROM providers p WHERE p.id = $1`, providerID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("provider %s: %w", providerID, marketplace.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get provider %s: %w", providerID, err)
	}
	quals, err := d.qualifications(ctx, []string{providerID})
	if err != nil {
		return nil, fmt.Errorf("qualifications: %w", err)
	}
	p.Qualifications = quals[providerID]
	return &p, nil
}

// UpsertProvider writes the provider row and replaces its qualifications.
func (d *Directory) UpsertProvider(ctx context.Context, p marketplace.Provider) (err error) {
	if p.ID == "" {
		return errors.New("provider id required")
	}
	tx, err := d.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		} else {
			err = tx.Commit(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, `
		INSERT INTO providers (id, name, lat, lng, address, available, rating, completion_rate, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, lat = EXCLUDED.lat, lng = EXCLUDED.lng,
			address = EXCLUDED.address, available = EXCLUDED.available,
			rating = EXCLUDED.rating, completion_rate = EXCLUDED.completion_rate,
			updated_at = now()`,
		p.ID, p.Name, p.Location.Lat, p.Location.Lng, p.Location.Address, p.Available, p.Rating, p.CompletionRate,
	); err != nil {
		return fmt.Errorf("upsert provider %s: %w", p.ID, err)
	}
	if _, err = tx.Exec(ctx, `DELETE FROM provider_qualifications WHERE provider_id = $1`, p.ID); err != nil {
		return err
	}
	for _, q := range p.Qualifications {
		if _, err = tx.Exec(ctx,
			`INSERT INTO provider_qualifications (provider_id, category_id, strength) VALUES ($1, $2, $3)`,
			p.ID, q.CategoryID, q.Strength,
		); err != nil {
			return fmt.Errorf("qualification %s/%s: %w", p.ID, q.CategoryID, err)
		}
	}
	return nil
}

func (d *Directory) SetAvailability(ctx context.Context, providerID string, available bool) error {
	tag, err := d.pool.Exec(ctx,
		`UPDATE providers SET available = $2, updated_at = now() WHERE id = $1`, providerID, available)
	if err != nil {
		return fmt.Errorf("set availability %s: %w", providerID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("provider %s: %w", providerID, marketplace.ErrNotFound)
	}
	return nil
}
