package models

import "time"

type ConnectionStatus string

const (
	ConnectionStatusActive   ConnectionStatus = "active"
	ConnectionStatusDisabled ConnectionStatus = "disabled"
)

// Connection is a tenant's link to one PBX instance. The PBX password is kept
// encrypted at rest; WebhookToken is the shared secret the PBX presents when
// delivering CDR webhooks.
type Connection struct {
	ID               string           `json:"id" db:"id"`
	TenantID         string           `json:"tenant_id" db:"tenant_id"`
	Name             string           `json:"name" db:"name"`
	ProviderType     string           `json:"provider_type" db:"provider_type"` // enum: grandstream
	Host             string           `json:"host" db:"host"`
	Port             int              `json:"port" db:"port"`
	Username         string           `json:"username" db:"username"`
	SecretCiphertext []byte           `json:"-" db:"secret_ciphertext"`
	WebhookToken     string           `json:"-" db:"webhook_token"`
	InboundTrunks    []string         `json:"inbound_trunks" db:"inbound_trunks"`
	OutboundTrunks   []string         `json:"outbound_trunks" db:"outbound_trunks"`
	Status           ConnectionStatus `json:"status" db:"status"`
	CreatedAt        time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at" db:"updated_at"`
}

func (c *Connection) IsActive() bool {
	return c.Status == ConnectionStatusActive
}
