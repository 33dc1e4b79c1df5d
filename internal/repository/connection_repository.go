package repository

import (
	"context"
	"database/sql"

	"github.com/lib/pq"

	"github.com/callsight/callsight-api/internal/models"
)

type ConnectionRepository interface {
	Get(ctx context.Context, id string) (models.Connection, error)
	List(ctx context.Context, tenantID string) ([]models.Connection, error)
	Create(ctx context.Context, conn models.Connection) (models.Connection, error)
	Update(ctx context.Context, conn models.Connection) (models.Connection, error)
}

type connectionRepository struct {
	db *sql.DB
}

func NewConnectionRepository(db *sql.DB) ConnectionRepository {
	return &connectionRepository{db: db}
}

const connectionColumns = `id, tenant_id, name, provider_type, host, port, username,
	secret_ciphertext, webhook_token, inbound_trunks, outbound_trunks, status, created_at, updated_at`

func (r *connectionRepository) Get(ctx context.Context, id string) (models.Connection, error) {
	query := `SELECT ` + connectionColumns + ` FROM callsight.connections WHERE id = $1`
	conn, err := scanConnection(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return conn, ErrNotFound
	}
	return conn, err
}

func (r *connectionRepository) List(ctx context.Context, tenantID string) ([]models.Connection, error) {
	query := `SELECT ` + connectionColumns + ` FROM callsight.connections WHERE tenant_id = $1 ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var connections []models.Connection
	for rows.Next() {
		conn, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		connections = append(connections, conn)
	}
	return connections, rows.Err()
}

func (r *connectionRepository) Create(ctx context.Context, conn models.Connection) (models.Connection, error) {
	query := `
		INSERT INTO callsight.connections (tenant_id, name, provider_type, host, port, username,
			secret_ciphertext, webhook_token, inbound_trunks, outbound_trunks, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at, updated_at
	`
	err := r.db.QueryRowContext(ctx, query,
		conn.TenantID,
		conn.Name,
		conn.ProviderType,
		conn.Host,
		conn.Port,
		conn.Username,
		conn.SecretCiphertext,
		conn.WebhookToken,
		pq.Array(conn.InboundTrunks),
		pq.Array(conn.OutboundTrunks),
		conn.Status,
	).Scan(&conn.ID, &conn.CreatedAt, &conn.UpdatedAt)
	return conn, err
}

func (r *connectionRepository) Update(ctx context.Context, conn models.Connection) (models.Connection, error) {
	query := `
		UPDATE callsight.connections
		SET name = $2, provider_type = $3, host = $4, port = $5, username = $6,
		    secret_ciphertext = $7, webhook_token = $8, inbound_trunks = $9,
		    outbound_trunks = $10, status = $11, updated_at = now()
		WHERE id = $1
	`
	_, err := r.db.ExecContext(ctx, query,
		conn.ID,
		conn.Name,
		conn.ProviderType,
		conn.Host,
		conn.Port,
		conn.Username,
		conn.SecretCiphertext,
		conn.WebhookToken,
		pq.Array(conn.InboundTrunks),
		pq.Array(conn.OutboundTrunks),
		conn.Status,
	)
	return conn, err
}

func scanConnection(row rowScanner) (models.Connection, error) {
	var conn models.Connection
	err := row.Scan(
		&conn.ID,
		&conn.TenantID,
		&conn.Name,
		&conn.ProviderType,
		&conn.Host,
		&conn.Port,
		&conn.Username,
		&conn.SecretCiphertext,
		&conn.WebhookToken,
		pq.Array(&conn.InboundTrunks),
		pq.Array(&conn.OutboundTrunks),
		&conn.Status,
		&conn.CreatedAt,
		&conn.UpdatedAt,
	)
	return conn, err
}
