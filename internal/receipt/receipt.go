package receipt

import (
	"time"

	"receiptrocket/internal/extraction"
)

// Receipt represents a persisted receipt record owned by a single user.
// Image is a dereferenceable URL for the stored photo; ImagePath is the
// store-internal key, kept so deletion targets the exact blob the record was
// created with instead of re-deriving a key from the URL.
type Receipt struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Date      time.Time `json:"date"`
	Image     string    `json:"image"`
	ImagePath string    `json:"imagePath,omitempty"`
	extraction.Fields
}
