package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/mall-resolver/internal/catalog"
	"github.com/mall-resolver/internal/geo"
	"github.com/mall-resolver/internal/match"
	"github.com/mall-resolver/internal/models"
)

// recountSQL recomputes every store_count from the stores table
const recountSQL = `
	UPDATE malls SET store_count = (
		SELECT COUNT(*) FROM stores s WHERE s.mall_id = malls.mall_id
	)`

// Repository reads and writes the store and mall tables
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repository over db
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// LoadStores returns every store ordered by id
func (r *Repository) LoadStores(ctx context.Context) ([]*models.Store, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT store_id, brand, name, address, category,
		       province_code, city_code, district_code,
		       lat, lng, mall_id, distance_km, inactive
		FROM stores
		ORDER BY store_id
	`)
	if err != nil {
		return nil, fmt.Errorf("repository: query stores: %w", err)
	}
	defer rows.Close()

	var stores []*models.Store
	for rows.Next() {
		s := &models.Store{}
		var lat, lng, distance sql.NullFloat64
		var mallID sql.NullString

		if err := rows.Scan(&s.ID, &s.Brand, &s.Name, &s.Address, &s.Category,
			&s.Region.Province, &s.Region.City, &s.Region.District,
			&lat, &lng, &mallID, &distance, &s.Inactive); err != nil {
			return nil, fmt.Errorf("repository: scan store: %w", err)
		}

		s.Location = point(lat, lng)
		s.MallID = mallID.String
		if distance.Valid {
			d := distance.Float64
			s.DistanceKm = &d
		}
		stores = append(stores, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: iterate stores: %w", err)
	}
	return stores, nil
}

// LoadMalls returns every mall ordered by id
func (r *Repository) LoadMalls(ctx context.Context) ([]*models.Mall, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT mall_id, name, original_name, province_code, city_code, district_code,
		       lat, lng, store_count
		FROM malls
		ORDER BY mall_id
	`)
	if err != nil {
		return nil, fmt.Errorf("repository: query malls: %w", err)
	}
	defer rows.Close()

	var malls []*models.Mall
	for rows.Next() {
		m := &models.Mall{}
		var lat, lng sql.NullFloat64

		if err := rows.Scan(&m.ID, &m.Name, &m.OriginalName,
			&m.Region.Province, &m.Region.City, &m.Region.District,
			&lat, &lng, &m.StoreCount); err != nil {
			return nil, fmt.Errorf("repository: scan mall: %w", err)
		}
		m.Location = point(lat, lng)
		malls = append(malls, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: iterate malls: %w", err)
	}
	return malls, nil
}

// SaveAssignments upserts malls, writes the mall assignment of every store and
// recomputes store counts, all in one transaction. Malls are written first so
// assignments to newly minted malls satisfy the foreign key.
func (r *Repository) SaveAssignments(ctx context.Context, malls []*models.Mall, stores []*models.Store) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("repository: begin: %w", err)
	}
	defer tx.Rollback()

	mallStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO malls (mall_id, name, original_name, province_code, city_code, district_code, lat, lng)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (mall_id) DO UPDATE SET
			name = EXCLUDED.name,
			original_name = EXCLUDED.original_name,
			lat = EXCLUDED.lat,
			lng = EXCLUDED.lng
	`)
	if err != nil {
		return fmt.Errorf("repository: prepare mall upsert: %w", err)
	}
	defer mallStmt.Close()

	for _, m := range malls {
		lat, lng := coords(m.Location)
		if _, err := mallStmt.ExecContext(ctx, m.ID, m.Name, m.OriginalName,
			m.Region.Province, m.Region.City, m.Region.District, lat, lng); err != nil {
			return fmt.Errorf("repository: upsert mall %s: %w", m.ID, err)
		}
	}

	storeStmt, err := tx.PrepareContext(ctx, `
		UPDATE stores SET mall_id = $2, distance_km = $3 WHERE store_id = $1
	`)
	if err != nil {
		return fmt.Errorf("repository: prepare assignment: %w", err)
	}
	defer storeStmt.Close()

	for _, s := range stores {
		var mallID sql.NullString
		if s.MallID != "" {
			mallID = sql.NullString{String: s.MallID, Valid: true}
		}
		var distance sql.NullFloat64
		if s.DistanceKm != nil {
			distance = sql.NullFloat64{Float64: *s.DistanceKm, Valid: true}
		}
		if _, err := storeStmt.ExecContext(ctx, s.ID, mallID, distance); err != nil {
			return fmt.Errorf("repository: assign store %s: %w", s.ID, err)
		}
	}

	if _, err := tx.ExecContext(ctx, recountSQL); err != nil {
		return fmt.Errorf("repository: recount: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("repository: commit: %w", err)
	}
	log.Info().Int("malls", len(malls)).Int("stores", len(stores)).Msg("saved assignments")
	return nil
}

// ApplyMerges repoints stores of retired malls, updates canonical malls,
// deletes retired malls and recounts in one transaction
func (r *Repository) ApplyMerges(ctx context.Context, merges []catalog.Merge) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("repository: begin: %w", err)
	}
	defer tx.Rollback()

	for _, mg := range merges {
		if len(mg.Retired) > 0 {
			if _, err := tx.ExecContext(ctx,
				`UPDATE stores SET mall_id = $1 WHERE mall_id = ANY($2)`,
				mg.CanonicalID, pq.Array(mg.Retired)); err != nil {
				return fmt.Errorf("repository: repoint stores to %s: %w", mg.CanonicalID, err)
			}
		}

		lat, lng := coords(mg.Location)
		if _, err := tx.ExecContext(ctx, `
			UPDATE malls SET
				name = COALESCE(NULLIF($2::text, ''), name),
				lat = COALESCE($3, lat),
				lng = COALESCE($4, lng)
			WHERE mall_id = $1
		`, mg.CanonicalID, mg.Name, lat, lng); err != nil {
			return fmt.Errorf("repository: update canonical %s: %w", mg.CanonicalID, err)
		}

		if len(mg.Retired) > 0 {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM malls WHERE mall_id = ANY($1)`,
				pq.Array(mg.Retired)); err != nil {
				return fmt.Errorf("repository: retire malls of %s: %w", mg.CanonicalID, err)
			}
		}
	}

	if _, err := tx.ExecContext(ctx, recountSQL); err != nil {
		return fmt.Errorf("repository: recount: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("repository: commit: %w", err)
	}
	return nil
}

// SaveReview stores the queues of a run, one row per candidate
func (r *Repository) SaveReview(ctx context.Context, runID string, items []match.QueueItem) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("repository: begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO review_queue (run_id, store_id, rank, candidate_mall_id, candidate_mall_name,
			distance_km, name_similarity, confidence_tier, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`)
	if err != nil {
		return fmt.Errorf("repository: prepare review insert: %w", err)
	}
	defer stmt.Close()

	for _, item := range items {
		if len(item.Candidates) == 0 {
			if _, err := stmt.ExecContext(ctx, runID, item.Store.ID, 0, nil, nil, nil, nil, string(item.Tier), item.Reason); err != nil {
				return fmt.Errorf("repository: insert review %s: %w", item.Store.ID, err)
			}
			continue
		}
		for rank, c := range item.Candidates {
			if _, err := stmt.ExecContext(ctx, runID, item.Store.ID, rank+1, c.MallID, c.MallName,
				c.DistanceKm, c.NameSimilarity, string(c.Tier), item.Reason); err != nil {
				return fmt.Errorf("repository: insert review %s: %w", item.Store.ID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("repository: commit: %w", err)
	}
	return nil
}

// RecordRun stores the summary of a run
func (r *Repository) RecordRun(ctx context.Context, report *match.Report) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("repository: encode report: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO resolution_runs (run_id, started_at, duration_ms, total, auto_high,
			queued_medium, queued_low, errors, report)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, report.RunID, report.StartedAt, report.Duration.Milliseconds(), report.Total, report.AutoHigh,
		report.QueuedMedium, report.QueuedLow, len(report.Errors), payload)
	if err != nil {
		return fmt.Errorf("repository: insert run %s: %w", report.RunID, err)
	}
	return nil
}

func point(lat, lng sql.NullFloat64) *geo.Point {
	if !lat.Valid || !lng.Valid {
		return nil
	}
	p := geo.Point{Lat: lat.Float64, Lng: lng.Float64}
	if !p.Valid() {
		return nil
	}
	return &p
}

func coords(p *geo.Point) (sql.NullFloat64, sql.NullFloat64) {
	if p == nil {
		return sql.NullFloat64{}, sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: p.Lat, Valid: true}, sql.NullFloat64{Float64: p.Lng, Valid: true}
}
