package models

import "time"

// DocumentStatus enumerates document lifecycle states.
type DocumentStatus string

const (
	DocumentStatusDraft     DocumentStatus = "draft"
	DocumentStatusPublished DocumentStatus = "published"
	DocumentStatusArchived  DocumentStatus = "archived"
)

// Document is a tenant-owned content record.
type Document struct {
	ID         string         `db:"id" json:"id"`
	TenantID   string         `db:"tenant_id" json:"tenant_id"`
	Title      string         `db:"title" json:"title"`
	Body       string         `db:"body" json:"body"`
	Status     DocumentStatus `db:"status" json:"status"`
	OwnerEmail string         `db:"owner_email" json:"owner_email"`
	AuthorName string         `db:"author_name" json:"author_name"`
	CreatedAt  time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time      `db:"updated_at" json:"updated_at"`
}

// Snapshot renders the document as a field map for audit diffing.
func (d *Document) Snapshot() map[string]any {
	if d == nil {
		return nil
	}
	return map[string]any{
		"title":      d.Title,
		"body":       d.Body,
		"status":     string(d.Status),
		"ownerEmail": d.OwnerEmail,
		"authorName": d.AuthorName,
	}
}
