package dto

// ListAuditEventsRequest narrows the audit viewer listing.
type ListAuditEventsRequest struct {
	ActorID      *int64 `form:"actor_id"`
	ActorType    string `form:"actor_type" validate:"omitempty,oneof=user system api_key webhook scheduler superadmin"`
	Action       string `form:"action"`
	ResourceType string `form:"resource_type"`
	ResourceID   string `form:"resource_id"`
	From         string `form:"from" validate:"omitempty,datetime=2006-01-02"`
	To           string `form:"to" validate:"omitempty,datetime=2006-01-02"`
	Page         int    `form:"page" validate:"omitempty,min=1"`
	PageSize     int    `form:"page_size" validate:"omitempty,min=1,max=200"`
	// Decrypt reveals PII to the viewer; gated by role upstream.
	Decrypt bool `form:"decrypt"`
}

// ExportAuditEventsRequest selects the export rendering.
type ExportAuditEventsRequest struct {
	ListAuditEventsRequest
	Format string `form:"format" validate:"omitempty,oneof=csv pdf"`
}
