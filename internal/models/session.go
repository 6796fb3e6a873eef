package models

import "time"

// Session describes a live visitor conversation held by the registry.
type Session struct {
	ID         string    `json:"session_id"`
	CreatedAt  time.Time `json:"created_at"`
	LastActive time.Time `json:"last_active"`
}
