package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/example/job-dispatch/internal/models"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) DB() *sql.DB { return p.db }

func (p *PostgresStore) CreateJob(ctx context.Context, j models.Job) error {
	var dropLat, dropLng sql.NullFloat64
	if j.Dropoff != nil {
		dropLat = sql.NullFloat64{Float64: j.Dropoff.Lat, Valid: true}
		dropLng = sql.NullFloat64{Float64: j.Dropoff.Lng, Valid: true}
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO jobs(id, service_type, status, pickup_lat, pickup_lng, dropoff_lat, dropoff_lng, fare, claimed_by, version, created_at, updated_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,'',1,$9,$9)`,
		j.ID, string(j.ServiceType), string(j.Status), j.Pickup.Lat, j.Pickup.Lng,
		dropLat, dropLng, j.Fare, time.Now().UTC())
	return err
}

const jobColumns = `id, service_type, status, pickup_lat, pickup_lng, dropoff_lat, dropoff_lng, fare, claimed_by, version, created_at, updated_at`

func scanJob(row interface{ Scan(...any) error }) (models.Job, error) {
	var j models.Job
	var dropLat, dropLng sql.NullFloat64
	err := row.Scan(&j.ID, &j.ServiceType, &j.Status, &j.Pickup.Lat, &j.Pickup.Lng,
		&dropLat, &dropLng, &j.Fare, &j.ClaimedBy, &j.Version, &j.CreatedAt, &j.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Job{}, ErrNotFound
	}
	if err != nil {
		return models.Job{}, err
	}
	if dropLat.Valid && dropLng.Valid {
		j.Dropoff = &models.Coord{Lat: dropLat.Float64, Lng: dropLng.Float64}
	}
	return j, nil
}

func (p *PostgresStore) GetJob(ctx context.Context, id string) (models.Job, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id=$1`, id)
	return scanJob(row)
}

func (p *PostgresStore) GetProvider(ctx context.Context, id string) (models.Provider, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, lat, lng, online, approved, availability, COALESCE(active_job_id,''), updated_at
		FROM providers WHERE id=$1`, id)
	return scanProvider(row)
}

func scanProvider(row interface{ Scan(...any) error }) (models.Provider, error) {
	var pr models.Provider
	err := row.Scan(&pr.ID, &pr.Location.Lat, &pr.Location.Lng, &pr.Online, &pr.Approved,
		&pr.Availability, &pr.ActiveJobID, &pr.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Provider{}, ErrNotFound
	}
	return pr, err
}

func (p *PostgresStore) UpsertProvider(ctx context.Context, pr models.Provider) error {
	if pr.Availability == "" {
		pr.Availability = models.Available
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO providers(id, lat, lng, online, approved, availability, active_job_id, updated_at)
		VALUES($1,$2,$3,$4,$5,$6,NULLIF($7,''),$8)
		ON CONFLICT (id) DO UPDATE SET
			lat=EXCLUDED.lat, lng=EXCLUDED.lng, online=EXCLUDED.online,
			approved=EXCLUDED.approved, updated_at=EXCLUDED.updated_at`,
		pr.ID, pr.Location.Lat, pr.Location.Lng, pr.Online, pr.Approved,
		string(pr.Availability), pr.ActiveJobID, time.Now().UTC())
	return err
}

// ClaimJob runs both conditional writes in one transaction. The WHERE
// clauses are the whole trick: each UPDATE only lands if the precondition
// still holds, so racing claimers serialize on the row and exactly one wins.
func (p *PostgresStore) ClaimJob(ctx context.Context, jobID, providerID string) (ClaimOutcome, models.Job, error) {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return 0, models.Job{}, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE providers SET active_job_id=$1, availability='busy', updated_at=NOW()
		WHERE id=$2 AND active_job_id IS NULL`, jobID, providerID)
	if err != nil {
		return 0, models.Job{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM providers WHERE id=$1)`, providerID).Scan(&exists); err != nil {
			return 0, models.Job{}, err
		}
		if !exists {
			return 0, models.Job{}, ErrNotFound
		}
		return ClaimProviderBusy, models.Job{}, nil
	}

	res, err = tx.ExecContext(ctx, `
		UPDATE jobs SET status='matched', claimed_by=$1, version=version+1, updated_at=NOW()
		WHERE id=$2 AND status='pending' AND claimed_by=''`, providerID, jobID)
	if err != nil {
		return 0, models.Job{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM jobs WHERE id=$1)`, jobID).Scan(&exists); err != nil {
			return 0, models.Job{}, err
		}
		if !exists {
			return 0, models.Job{}, ErrNotFound
		}
		return ClaimJobTaken, models.Job{}, nil
	}

	j, err := scanJob(tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id=$1`, jobID))
	if err != nil {
		return 0, models.Job{}, err
	}
	if err := tx.Commit(); err != nil {
		return 0, models.Job{}, err
	}
	return ClaimOK, j, nil
}

func (p *PostgresStore) UpdateJobStatusIf(ctx context.Context, jobID string, from, to models.JobStatus) (models.Job, bool, error) {
	clearClaim := ""
	if to == models.StatusCancelled {
		clearClaim = ", claimed_by=''"
	}
	res, err := p.db.ExecContext(ctx, `
		UPDATE jobs SET status=$1`+clearClaim+`, version=version+1, updated_at=NOW()
		WHERE id=$2 AND status=$3`, string(to), jobID, string(from))
	if err != nil {
		return models.Job{}, false, err
	}
	n, _ := res.RowsAffected()
	j, gerr := p.GetJob(ctx, jobID)
	if gerr != nil {
		return models.Job{}, false, gerr
	}
	return j, n > 0, nil
}

func (p *PostgresStore) ReleaseProvider(ctx context.Context, providerID, jobID string) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE providers SET active_job_id=NULL, availability='available', updated_at=NOW()
		WHERE id=$1 AND active_job_id=$2`, providerID, jobID)
	return err
}

func (p *PostgresStore) ListJobsModifiedSince(ctx context.Context, since time.Time) ([]models.Job, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE updated_at > $1 ORDER BY updated_at`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]models.Job, 0)
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (p *PostgresStore) ListProvidersModifiedSince(ctx context.Context, since time.Time) ([]models.Provider, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, lat, lng, online, approved, availability, COALESCE(active_job_id,''), updated_at
		FROM providers WHERE updated_at > $1 ORDER BY updated_at`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]models.Provider, 0)
	for rows.Next() {
		pr, err := scanProvider(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, pr)
	}
	return out, rows.Err()
}

// Rule persistence lives on the same store so the rule CRUD API and the
// auto-accept engine share one durable source.

func (p *PostgresStore) ListRules(ctx context.Context, providerID string) ([]models.AutoAcceptRule, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, provider_id, enabled, priority, max_distance_km, min_fare, service_types, COALESCE(time_start,''), COALESCE(time_end,'')
		FROM auto_accept_rules WHERE provider_id=$1 ORDER BY priority DESC`, providerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]models.AutoAcceptRule, 0)
	for rows.Next() {
		var r models.AutoAcceptRule
		var maxDist, minFare sql.NullFloat64
		var types string
		if err := rows.Scan(&r.ID, &r.ProviderID, &r.Enabled, &r.Priority, &maxDist, &minFare, &types, &r.TimeStart, &r.TimeEnd); err != nil {
			return nil, err
		}
		if maxDist.Valid {
			v := maxDist.Float64
			r.MaxDistanceKm = &v
		}
		if minFare.Valid {
			v := minFare.Float64
			r.MinFare = &v
		}
		for _, t := range strings.Split(types, ",") {
			if t = strings.TrimSpace(t); t != "" {
				r.ServiceTypes = append(r.ServiceTypes, models.ServiceType(t))
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *PostgresStore) PutRule(ctx context.Context, r models.AutoAcceptRule) error {
	types := make([]string, 0, len(r.ServiceTypes))
	for _, t := range r.ServiceTypes {
		types = append(types, string(t))
	}
	var maxDist, minFare sql.NullFloat64
	if r.MaxDistanceKm != nil {
		maxDist = sql.NullFloat64{Float64: *r.MaxDistanceKm, Valid: true}
	}
	if r.MinFare != nil {
		minFare = sql.NullFloat64{Float64: *r.MinFare, Valid: true}
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO auto_accept_rules(id, provider_id, enabled, priority, max_distance_km, min_fare, service_types, time_start, time_end)
		VALUES($1,$2,$3,$4,$5,$6,$7,NULLIF($8,''),NULLIF($9,''))
		ON CONFLICT (id) DO UPDATE SET
			enabled=EXCLUDED.enabled, priority=EXCLUDED.priority,
			max_distance_km=EXCLUDED.max_distance_km, min_fare=EXCLUDED.min_fare,
			service_types=EXCLUDED.service_types, time_start=EXCLUDED.time_start, time_end=EXCLUDED.time_end`,
		r.ID, r.ProviderID, r.Enabled, r.Priority, maxDist, minFare,
		strings.Join(types, ","), r.TimeStart, r.TimeEnd)
	return err
}

func (p *PostgresStore) DeleteRule(ctx context.Context, providerID, ruleID string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM auto_accept_rules WHERE id=$1 AND provider_id=$2`, ruleID, providerID)
	return err
}
