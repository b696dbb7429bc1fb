package dto

// ExportCreateDTO is used for incoming project export requests.
type ExportCreateDTO struct {
	ProjectID string `json:"project_id" validate:"required,min=1,max=128"`
}

// ExportURLResponseDTO carries a presigned URL for an export archive.
type ExportURLResponseDTO struct {
	URL       string `json:"url"`
	ExpiresIn int    `json:"expires_in_seconds"`
}
