package api

import (
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/unitlens/internal/models"
)

// ConvertRequest is the request body for a direct conversion.
type ConvertRequest struct {
	Label string `json:"label" example:"kilometers" validate:"required"`
	Value string `json:"value" example:"10" validate:"required"`
}

// Validate checks the request fields.
func (r ConvertRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Label, validation.Required),
		validation.Field(&r.Value, validation.Required),
	)
}

// OpenDocumentRequest is the request body for opening a document. Without
// content the document is loaded from the documents directory.
type OpenDocumentRequest struct {
	Path    string  `json:"path" example:"races/marathon.xhtml" validate:"required"`
	Content *string `json:"content,omitempty"`
	Replace bool    `json:"replace,omitempty"`
}

// Validate checks the request fields.
func (r OpenDocumentRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Path, validation.Required),
	)
}

// InsertRequest is the request body for appending markup to a document.
type InsertRequest struct {
	Target string `json:"target" example:"//div[@id='stats']" validate:"required"`
	Markup string `json:"markup" example:"<p>10<abbr class='unit' title='kilometers'>km</abbr></p>" validate:"required"`
}

// Validate checks the request fields.
func (r InsertRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Target, validation.Required),
		validation.Field(&r.Markup, validation.Required),
	)
}

// SetAttributeRequest is the request body for setting an attribute.
type SetAttributeRequest struct {
	Target string `json:"target" example:"//abbr" validate:"required"`
	Name   string `json:"name" example:"title" validate:"required"`
	Value  string `json:"value" example:"miles"`
}

// Validate checks the request fields.
func (r SetAttributeRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Target, validation.Required),
		validation.Field(&r.Name, validation.Required),
	)
}

// MutationResponse reports how many elements a mutation touched.
type MutationResponse struct {
	Matched int `json:"matched" example:"1" validate:"required"`
}

// UnitListResponse wraps the registry listing.
type UnitListResponse struct {
	Units []models.Unit `json:"units" validate:"required"`
}

// DocumentListResponse wraps the live documents.
type DocumentListResponse struct {
	Documents []models.DocumentInfo `json:"documents" validate:"required"`
	Total     int                   `json:"total" example:"3" validate:"required"`
}

// DocumentDetail is a live document with its current markup.
type DocumentDetail struct {
	models.DocumentInfo
	Content string `json:"content"`
}

// ConversionListResponse wraps a document's conversion history.
type ConversionListResponse struct {
	Conversions []models.Conversion `json:"conversions" validate:"required"`
}
