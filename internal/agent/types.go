package agent

import (
	"errors"
	"time"
)

var (
	ErrNotFound      = errors.New("agent: not found")
	ErrAlreadyExists = errors.New("agent: already exists")
	ErrInvalidInput  = errors.New("agent: invalid input")

	// ErrInvalidImage marks an image payload that is not an accepted data URL.
	ErrInvalidImage = errors.New("agent: invalid image data")
)

// Agent is a catalog entry. ImageData holds the decoded bytes; the HTTP
// boundary renders them back as a data URL.
type Agent struct {
	ID          string
	Title       string
	Description string
	ImageData   []byte
	MimeType    string
	LinkURL     string
	Port        int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Page bounds a catalog listing. Limit 0 means no paging.
type Page struct {
	Limit  int
	Offset int
}

// Listing is one page of the catalog plus the unpaged total.
type Listing struct {
	Agents []*Agent
	Total  int
}
