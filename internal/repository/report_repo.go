package repository

import (
	"context"
	"encoding/json"

	"tola_ledger/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ReportRepo struct {
	db *pgxpool.Pool
}

func NewReportRepo(db *pgxpool.Pool) *ReportRepo {
	return &ReportRepo{db: db}
}

// SaveReport upserts the whole snapshot in one statement, so readers see
// either the previous report or the new one.
func (r *ReportRepo) SaveReport(ctx context.Context, rep *domain.Report) error {
	data, err := json.Marshal(rep)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO reports (type, period, data, generated_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (type, period) DO UPDATE SET data = EXCLUDED.data, generated_at = EXCLUDED.generated_at
	`, rep.Type, rep.Period, data, rep.GeneratedAt)
	return err
}

func (r *ReportRepo) GetReport(ctx context.Context, typ domain.ReportType, period string) (*domain.Report, error) {
	row := r.db.QueryRow(ctx, `SELECT data FROM reports WHERE type = $1 AND period = $2`, typ, period)
	rep, err := scanReport(row)
	if err != nil {
		return nil, notFound(err)
	}
	return rep, nil
}

func (r *ReportRepo) ListReports(ctx context.Context, typ domain.ReportType, limit int) ([]domain.Report, error) {
	rows, err := r.db.Query(ctx, `
		SELECT data FROM reports WHERE type = $1 ORDER BY period DESC LIMIT $2
	`, typ, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Report
	for rows.Next() {
		rep, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rep)
	}
	return out, rows.Err()
}

func scanReport(row pgx.Row) (*domain.Report, error) {
	var data []byte
	if err := row.Scan(&data); err != nil {
		return nil, err
	}
	var rep domain.Report
	if err := json.Unmarshal(data, &rep); err != nil {
		return nil, err
	}
	return &rep, nil
}
