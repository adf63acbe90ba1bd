package models

import (
	"time"

	"github.com/google/uuid"
)

// Scopes attached to API keys. Workers authenticate with the worker scope,
// the submission CLI with submit, the monitoring surface with read.
const (
	ScopeSubmit = "submit"
	ScopeWorker = "worker"
	ScopeRead   = "read"
	ScopeAdmin  = "admin"
)

// APIKey authenticates CLI, worker, and monitoring access to the
// coordinator. Raw keys are shown once at creation; only the bcrypt hash
// is stored.
type APIKey struct {
	ID         uuid.UUID  `db:"id"           json:"id"`
	Name       string     `db:"name"         json:"name"`
	KeyHash    string     `db:"key_hash"     json:"-"`
	KeyPrefix  string     `db:"key_prefix"   json:"key_prefix"`
	Scopes     []string   `db:"scopes"       json:"scopes"`
	LastUsedAt *time.Time `db:"last_used_at" json:"last_used_at,omitempty"`
	DeletedAt  *time.Time `db:"deleted_at"   json:"-"`
	CreatedAt  time.Time  `db:"created_at"   json:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at"   json:"updated_at"`
}
