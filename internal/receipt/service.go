package receipt

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"receiptrocket/internal/auth"
	"receiptrocket/internal/extraction"
)

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// defaultTimeSource provides the current time
type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Service orchestrates the receipt ingestion workflow: validate the upload,
// verify the caller's identity, extract fields with the AI provider, store
// the image, then write the metadata record. Each step runs only after the
// previous one succeeded, so a failed extraction or upload leaves nothing
// persisted. The metadata write is at-most-once per call; a caller retrying
// after an ambiguous network failure can create a duplicate receipt with its
// own blob, which is accepted behavior.
type Service struct {
	db         DB
	verifier   auth.Verifier
	extractor  extraction.Extractor
	storage    Storage
	timeSource TimeSource
}

// NewService creates a new Service with the default time source
func NewService(db DB, verifier auth.Verifier, extractor extraction.Extractor, storage Storage) *Service {
	return &Service{
		db:         db,
		verifier:   verifier,
		extractor:  extractor,
		storage:    storage,
		timeSource: &defaultTimeSource{},
	}
}

// NewServiceWithDeps creates a new Service with a custom time source for testing
func NewServiceWithDeps(db DB, verifier auth.Verifier, extractor extraction.Extractor, storage Storage, timeSrc TimeSource) *Service {
	return &Service{
		db:         db,
		verifier:   verifier,
		extractor:  extractor,
		storage:    storage,
		timeSource: timeSrc,
	}
}

// authenticate resolves the identity token into an owner ID
func (s *Service) authenticate(ctx context.Context, idToken string) (string, error) {
	uid, err := s.verifier.Verify(ctx, idToken)
	if err != nil {
		return "", wrapKind(ErrUnauthenticated, err)
	}
	return uid, nil
}

// ProcessReceipt ingests an uploaded receipt image: extracts its fields,
// stores the image, and persists the resulting record for the caller.
func (s *Service) ProcessReceipt(ctx context.Context, idToken string, filename string, data []byte, contentType string) (*Receipt, error) {
	// Cheap, side-effect-free validation so bad requests never reach paid
	// inference or storage
	if len(data) == 0 {
		return nil, wrapKind(ErrInvalidInput, errors.New("no image file was supplied"))
	}
	if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(contentType)), "image/") {
		return nil, wrapKind(ErrInvalidInput, errors.New("the uploaded file is not an image"))
	}

	uid, err := s.authenticate(ctx, idToken)
	if err != nil {
		return nil, err
	}

	// Nothing is persisted yet; an extraction failure is safe to retry
	fields, err := s.extractor.ExtractReceipt(ctx, extraction.EncodeDataURI(contentType, data))
	if err != nil {
		slog.Error("Failed to extract receipt fields",
			"filename", filename,
			"content_type", contentType,
			"file_size", len(data),
			"error", err,
		)
		return nil, wrapKind(ErrExtractionFailed, err)
	}

	key, imageURL, err := s.storage.Put(ctx, data, contentType)
	if err != nil {
		return nil, err
	}

	record := &Receipt{
		UserID:    uid,
		Date:      s.timeSource.Now(),
		Image:     imageURL,
		ImagePath: key,
		Fields:    *fields,
	}
	id, err := s.db.AppendReceipt(record)
	if err != nil {
		// The blob is orphaned now; compensating cleanup is out of scope
		slog.Error("Metadata write failed after image upload, blob orphaned",
			"key", key,
			"user_id", uid,
			"error", err,
		)
		return nil, err
	}
	record.ID = id

	return record, nil
}

// ListReceipts returns the caller's receipts, newest first. Zero receipts is
// an empty list, never an error.
func (s *Service) ListReceipts(ctx context.Context, idToken string) ([]*Receipt, error) {
	uid, err := s.authenticate(ctx, idToken)
	if err != nil {
		return nil, err
	}
	receipts, err := s.db.ListReceiptsByUser(uid)
	if err != nil {
		return nil, err
	}
	return receipts, nil
}

// DeleteReceipt removes the caller's receipt and its image. The blob delete
// is best-effort; only the metadata delete decides success.
func (s *Service) DeleteReceipt(ctx context.Context, idToken string, id string) error {
	uid, err := s.authenticate(ctx, idToken)
	if err != nil {
		return err
	}

	record, err := s.db.GetReceipt(id)
	if err != nil {
		return err
	}
	if record.UserID != uid {
		return wrapKind(ErrForbidden, errors.New("receipt belongs to another user"))
	}

	key := record.ImagePath
	if key == "" {
		key = deriveObjectKey(record.Image)
	}
	if key == "" {
		slog.Warn("No object key recoverable for receipt image", "id", id)
	} else if err := s.storage.Delete(ctx, key); err != nil {
		slog.Warn("Failed to delete receipt image", "id", id, "key", key, "error", err)
	}

	if err := s.db.DeleteReceipt(id); err != nil {
		return err
	}
	return nil
}

// RefreshImageURL derives a fresh signed URL for the caller's receipt image,
// for when the URL persisted at ingestion time has expired.
func (s *Service) RefreshImageURL(ctx context.Context, idToken string, id string) (string, error) {
	uid, err := s.authenticate(ctx, idToken)
	if err != nil {
		return "", err
	}

	record, err := s.db.GetReceipt(id)
	if err != nil {
		return "", err
	}
	if record.UserID != uid {
		return "", wrapKind(ErrForbidden, errors.New("receipt belongs to another user"))
	}

	key := record.ImagePath
	if key == "" {
		key = deriveObjectKey(record.Image)
	}
	if key == "" {
		return "", wrapKind(ErrNotFound, errors.New("no stored image for receipt"))
	}

	url, err := s.storage.SignedURL(ctx, key, 0)
	if err != nil {
		return "", err
	}
	return url, nil
}
