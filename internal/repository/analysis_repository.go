package repository

import (
	"context"
	"database/sql"

	"github.com/lib/pq"

	"github.com/callsight/callsight-api/internal/models"
)

type AnalysisRepository interface {
	// Upsert stores the analysis result for a call. Re-analysis replaces the
	// previous row wholesale; partial results are never merged.
	Upsert(ctx context.Context, result models.AnalysisResult) (models.AnalysisResult, error)
	GetByCallRecord(ctx context.Context, callRecordID string) (models.AnalysisResult, error)
}

type analysisRepository struct {
	db *sql.DB
}

func NewAnalysisRepository(db *sql.DB) AnalysisRepository {
	return &analysisRepository{db: db}
}

func (r *analysisRepository) Upsert(ctx context.Context, result models.AnalysisResult) (models.AnalysisResult, error) {
	query := `
		INSERT INTO callsight.analysis_results (tenant_id, call_record_id, summary, sentiment, keywords, action_items, raw)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (call_record_id) DO UPDATE
		SET summary = EXCLUDED.summary,
		    sentiment = EXCLUDED.sentiment,
		    keywords = EXCLUDED.keywords,
		    action_items = EXCLUDED.action_items,
		    raw = EXCLUDED.raw
		RETURNING id, created_at
	`
	err := r.db.QueryRowContext(ctx, query,
		result.TenantID,
		result.CallRecordID,
		result.Summary,
		result.Sentiment,
		pq.Array(result.Keywords),
		pq.Array(result.ActionItems),
		[]byte(result.Raw),
	).Scan(&result.ID, &result.CreatedAt)
	return result, err
}

func (r *analysisRepository) GetByCallRecord(ctx context.Context, callRecordID string) (models.AnalysisResult, error) {
	query := `
		SELECT id, tenant_id, call_record_id, summary, sentiment, keywords, action_items, raw, created_at
		FROM callsight.analysis_results
		WHERE call_record_id = $1
	`
	var (
		result models.AnalysisResult
		raw    []byte
	)
	err := r.db.QueryRowContext(ctx, query, callRecordID).Scan(
		&result.ID,
		&result.TenantID,
		&result.CallRecordID,
		&result.Summary,
		&result.Sentiment,
		pq.Array(&result.Keywords),
		pq.Array(&result.ActionItems),
		&raw,
		&result.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return result, ErrNotFound
	}
	result.Raw = raw
	return result, err
}
