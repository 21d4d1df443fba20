package dto

// CreateDocumentRequest is the payload for creating a document.
type CreateDocumentRequest struct {
	Title      string `json:"title" validate:"required,max=255"`
	Body       string `json:"body"`
	Status     string `json:"status" validate:"omitempty,oneof=draft published archived"`
	OwnerEmail string `json:"owner_email" validate:"omitempty,email"`
	AuthorName string `json:"author_name" validate:"omitempty,max=255"`
}

// UpdateDocumentRequest is the payload for updating a document. Nil
// fields are left untouched.
type UpdateDocumentRequest struct {
	Title      *string `json:"title" validate:"omitempty,max=255"`
	Body       *string `json:"body"`
	Status     *string `json:"status" validate:"omitempty,oneof=draft published archived"`
	OwnerEmail *string `json:"owner_email" validate:"omitempty,email"`
	AuthorName *string `json:"author_name" validate:"omitempty,max=255"`
}
