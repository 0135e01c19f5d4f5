package receipt

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
)

// maxUploadSize bounds multipart parsing; 50MB covers high-resolution phone photos
const maxUploadSize = int64(50 << 20)

var (
	errHandlerFileTooLarge = errors.New("file is too large, maximum size is 50MB")
	errHandlerIDRequired   = errors.New("receipt ID required")
)

// writeError writes a JSON error response with CORS headers set
func writeError(w http.ResponseWriter, err error) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusForError(err))
	json.NewEncoder(w).Encode(map[string]string{
		"error": err.Error(),
	})
}

// writeJSON writes a JSON success response
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// handleHealth reports liveness
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleProcessReceipt handles receipt upload and ingestion
func (s *Server) handleProcessReceipt(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		writeError(w, wrapKind(ErrInvalidInput, err))
		return
	}

	f, header, err := r.FormFile("photo")
	if err != nil {
		writeError(w, wrapKind(ErrInvalidInput, err))
		return
	}
	defer f.Close()

	if header.Size > maxUploadSize {
		writeError(w, wrapKind(ErrInvalidInput, errHandlerFileTooLarge))
		return
	}

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		writeError(w, wrapKind(ErrInvalidInput, err))
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = contentTypeForExt(header.Filename)
	}

	record, err := s.service.ProcessReceipt(r.Context(), bearerToken(r), header.Filename, data, contentType)
	if err != nil {
		slog.Error("Error processing receipt", "filename", header.Filename, "error", err)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, record)
}

// handleListReceipts returns the caller's receipts, newest first
func (s *Server) handleListReceipts(w http.ResponseWriter, r *http.Request) {
	receipts, err := s.service.ListReceipts(r.Context(), bearerToken(r))
	if err != nil {
		slog.Error("Error listing receipts", "error", err)
		writeError(w, err)
		return
	}

	// Always return an array, not null
	if receipts == nil {
		receipts = []*Receipt{}
	}
	writeJSON(w, http.StatusOK, receipts)
}

// handleDeleteReceipt deletes the caller's receipt and its image
func (s *Server) handleDeleteReceipt(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, wrapKind(ErrInvalidInput, errHandlerIDRequired))
		return
	}

	if err := s.service.DeleteReceipt(r.Context(), bearerToken(r), id); err != nil {
		slog.Error("Error deleting receipt", "id", id, "error", err)
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleRefreshImageURL returns a fresh signed URL for a receipt image
func (s *Server) handleRefreshImageURL(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, wrapKind(ErrInvalidInput, errHandlerIDRequired))
		return
	}

	url, err := s.service.RefreshImageURL(r.Context(), bearerToken(r), id)
	if err != nil {
		slog.Error("Error refreshing image URL", "id", id, "error", err)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

// contentTypeForExt guesses a content type from the filename when the browser
// did not send one
func contentTypeForExt(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	case ".gif":
		return "image/gif"
	case ".heic":
		return "image/heic"
	default:
		return "application/octet-stream"
	}
}
