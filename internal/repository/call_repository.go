package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/callsight/callsight-api/internal/models"
)

type CallRepository interface {
	// Create inserts a new call record. Returns ErrDuplicate when a record
	// for the same (connection_id, external_session_id) already exists,
	// which callers treat as an idempotent no-op.
	Create(ctx context.Context, call models.CallRecord) (models.CallRecord, error)
	Get(ctx context.Context, callID string) (models.CallRecord, error)
	// GetBySession looks a record up by its natural key. Used by the webhook
	// receiver to recover the original record on replayed deliveries.
	GetBySession(ctx context.Context, connectionID, externalSessionID string) (models.CallRecord, error)
	List(ctx context.Context, tenantID string, limit, offset int) ([]models.CallRecord, error)
	SetRecording(ctx context.Context, callID, path string, size int64) error
	SetTranscript(ctx context.Context, callID, path string) error
	SetTranscriptStatus(ctx context.Context, callID string, status models.ProcessingStatus) error
	SetAnalysisStatus(ctx context.Context, callID string, status models.ProcessingStatus) error
}

type callRepository struct {
	db *sql.DB
}

func NewCallRepository(db *sql.DB) CallRepository {
	return &callRepository{db: db}
}

const callColumns = `id, tenant_id, connection_id, external_session_id, direction,
	caller_number, caller_name, callee_number, started_at, answered_at, ended_at,
	duration_seconds, billable_seconds, disposition, recording_filename, recording_path,
	recording_bytes, transcript_path, transcript_status, analysis_status, raw_payload,
	created_at, updated_at`

func (r *callRepository) Create(ctx context.Context, call models.CallRecord) (models.CallRecord, error) {
	query := `
		INSERT INTO callsight.call_records (
			tenant_id, connection_id, external_session_id, direction,
			caller_number, caller_name, callee_number, started_at, answered_at, ended_at,
			duration_seconds, billable_seconds, disposition, recording_filename,
			transcript_status, analysis_status, raw_payload
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		RETURNING id, created_at, updated_at
	`
	err := r.db.QueryRowContext(ctx, query,
		call.TenantID,
		call.ConnectionID,
		call.ExternalSessionID,
		call.Direction,
		call.CallerNumber,
		call.CallerName,
		call.CalleeNumber,
		call.StartedAt,
		call.AnsweredAt,
		call.EndedAt,
		call.DurationSeconds,
		call.BillableSeconds,
		call.Disposition,
		call.RecordingFilename,
		call.TranscriptStatus,
		call.AnalysisStatus,
		[]byte(call.RawPayload),
	).Scan(&call.ID, &call.CreatedAt, &call.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return call, ErrDuplicate
		}
		return call, err
	}
	return call, nil
}

func (r *callRepository) Get(ctx context.Context, callID string) (models.CallRecord, error) {
	query := `SELECT ` + callColumns + ` FROM callsight.call_records WHERE id = $1`
	call, err := scanCall(r.db.QueryRowContext(ctx, query, callID))
	if err == sql.ErrNoRows {
		return call, ErrNotFound
	}
	return call, err
}

func (r *callRepository) GetBySession(ctx context.Context, connectionID, externalSessionID string) (models.CallRecord, error) {
	query := `SELECT ` + callColumns + ` FROM callsight.call_records WHERE connection_id = $1 AND external_session_id = $2`
	call, err := scanCall(r.db.QueryRowContext(ctx, query, connectionID, externalSessionID))
	if err == sql.ErrNoRows {
		return call, ErrNotFound
	}
	return call, err
}

func (r *callRepository) List(ctx context.Context, tenantID string, limit, offset int) ([]models.CallRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT ` + callColumns + `
		FROM callsight.call_records
		WHERE tenant_id = $1
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.db.QueryContext(ctx, query, tenantID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	calls := make([]models.CallRecord, 0, limit)
	for rows.Next() {
		call, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		calls = append(calls, call)
	}
	return calls, rows.Err()
}

func (r *callRepository) SetRecording(ctx context.Context, callID, path string, size int64) error {
	query := `
		UPDATE callsight.call_records
		SET recording_path = $2, recording_bytes = $3, updated_at = now()
		WHERE id = $1
	`
	return r.execOne(ctx, query, callID, path, size)
}

func (r *callRepository) SetTranscript(ctx context.Context, callID, path string) error {
	query := `
		UPDATE callsight.call_records
		SET transcript_path = $2, transcript_status = 'completed', updated_at = now()
		WHERE id = $1
	`
	return r.execOne(ctx, query, callID, path)
}

func (r *callRepository) SetTranscriptStatus(ctx context.Context, callID string, status models.ProcessingStatus) error {
	query := `UPDATE callsight.call_records SET transcript_status = $2, updated_at = now() WHERE id = $1`
	return r.execOne(ctx, query, callID, status)
}

func (r *callRepository) SetAnalysisStatus(ctx context.Context, callID string, status models.ProcessingStatus) error {
	query := `UPDATE callsight.call_records SET analysis_status = $2, updated_at = now() WHERE id = $1`
	return r.execOne(ctx, query, callID, status)
}

func (r *callRepository) execOne(ctx context.Context, query string, args ...interface{}) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("call record %v: %w", args[0], ErrNotFound)
	}
	return nil
}

func scanCall(row rowScanner) (models.CallRecord, error) {
	var (
		call              models.CallRecord
		answeredAt        sql.NullTime
		recordingFilename sql.NullString
		recordingPath     sql.NullString
		recordingBytes    sql.NullInt64
		transcriptPath    sql.NullString
		rawPayload        []byte
	)
	err := row.Scan(
		&call.ID,
		&call.TenantID,
		&call.ConnectionID,
		&call.ExternalSessionID,
		&call.Direction,
		&call.CallerNumber,
		&call.CallerName,
		&call.CalleeNumber,
		&call.StartedAt,
		&answeredAt,
		&call.EndedAt,
		&call.DurationSeconds,
		&call.BillableSeconds,
		&call.Disposition,
		&recordingFilename,
		&recordingPath,
		&recordingBytes,
		&transcriptPath,
		&call.TranscriptStatus,
		&call.AnalysisStatus,
		&rawPayload,
		&call.CreatedAt,
		&call.UpdatedAt,
	)
	if err != nil {
		return call, err
	}
	if answeredAt.Valid {
		call.AnsweredAt = &answeredAt.Time
	}
	if recordingFilename.Valid {
		call.RecordingFilename = &recordingFilename.String
	}
	if recordingPath.Valid {
		call.RecordingPath = &recordingPath.String
	}
	if recordingBytes.Valid {
		call.RecordingBytes = &recordingBytes.Int64
	}
	if transcriptPath.Valid {
		call.TranscriptPath = &transcriptPath.String
	}
	call.RawPayload = rawPayload
	return call, nil
}
