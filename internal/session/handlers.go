package session

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/sidneyarfe/divideai/internal/bill"
)

// Receipt photos straight off a phone camera can be large
const maxUploadSize = int64(50 << 20)

// corsError writes an error response with CORS headers set
func corsError(w http.ResponseWriter, message string, code int) {
	setCORSHeaders(w)
	http.Error(w, message, code)
}

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// writeJSON encodes v before writing the status so an encoding failure
// still produces a 500
func writeJSON(w http.ResponseWriter, code int, v any) {
	setCORSHeaders(w)
	body, err := json.Marshal(v)
	if err != nil {
		slog.Error("Error encoding response", "error", err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, `{"error":"Internal server error"}`+"\n")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(append(body, '\n'))
}

// jsonError writes {"error": message}
func jsonError(w http.ResponseWriter, message string, code int) {
	writeJSON(w, code, map[string]string{"error": message})
}

// writeServiceError maps service errors to a status code
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		jsonError(w, "Bill not found", http.StatusNotFound)
	case errors.Is(err, ErrInvalidStep), errors.Is(err, ErrNotFullyAssigned):
		jsonError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, ErrCurrentUser), errors.Is(err, ErrEmptyName):
		jsonError(w, err.Error(), http.StatusBadRequest)
	default:
		slog.Error("Error handling request", "method", r.Method, "path", r.URL.Path, "error", err)
		jsonError(w, "Internal server error", http.StatusInternalServerError)
	}
}

// decodeBody reads a JSON request body into v, writing a 400 on failure
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		jsonError(w, "Invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

// respondSession writes the session or maps the error
func respondSession(w http.ResponseWriter, r *http.Request, code int, sess *Session, err error) {
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, code, sess)
}

// contentTypeFor guesses a MIME type from the upload's extension
func contentTypeFor(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".pdf":
		return "application/pdf"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	default:
		return "application/octet-stream"
	}
}

// handleUploadReceipt scans a receipt photo into a new bill
func (s *Server) handleUploadReceipt(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		msg := "Error parsing form"
		if err.Error() == "http: request body too large" {
			msg = "File is too large. Maximum size is 50MB."
		}
		jsonError(w, msg, http.StatusBadRequest)
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		jsonError(w, "No file was selected. Please choose a receipt photo.", http.StatusBadRequest)
		return
	}
	defer f.Close()

	if header.Size > maxUploadSize {
		jsonError(w, "File is too large. Maximum size is 50MB.", http.StatusBadRequest)
		return
	}

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		jsonError(w, "Error reading file. Please try again.", http.StatusInternalServerError)
		return
	}

	contentType := strings.ToLower(strings.TrimSpace(header.Header.Get("Content-Type")))
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = contentTypeFor(header.Filename)
	}

	sess, err := s.service.ProcessReceipt(header.Filename, data, contentType)
	if err != nil {
		if errors.Is(err, ErrScanFailed) {
			slog.Warn("Receipt scan failed", "filename", header.Filename, "error", err)
			jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleStartManual(w http.ResponseWriter, r *http.Request) {
	sess, err := s.service.StartManual()
	respondSession(w, r, http.StatusCreated, sess, err)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.service.GetSession(r.PathValue("id"))
	respondSession(w, r, http.StatusOK, sess, err)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Reset(r.PathValue("id")); err != nil {
		writeServiceError(w, r, err)
		return
	}
	setCORSHeaders(w)
	w.WriteHeader(http.StatusNoContent)
}

// handleGetImage returns the stored receipt photo
func (s *Server) handleGetImage(w http.ResponseWriter, r *http.Request) {
	data, contentType, err := s.service.GetReceiptImage(r.PathValue("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			corsError(w, "Image not found", http.StatusNotFound)
			return
		}
		slog.Error("Error reading receipt image", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	setCORSHeaders(w)
	w.Header().Set("Content-Type", contentType)
	w.Write(data)
}

func (s *Server) handleAddItem(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FeeLike bool `json:"fee_like"`
	}
	// An empty body adds a plain item
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}

	sess, item, err := s.service.AddItem(r.PathValue("id"), req.FeeLike)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"item":    item,
		"session": sess,
	})
}

func (s *Server) handleUpdateItem(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Field string `json:"field"`
		Value string `json:"value"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	field := bill.ItemField(req.Field)
	switch field {
	case bill.FieldName, bill.FieldQuantity, bill.FieldTotalValue:
	default:
		jsonError(w, "Unknown item field: "+req.Field, http.StatusBadRequest)
		return
	}

	sess, err := s.service.UpdateItem(r.PathValue("id"), r.PathValue("itemID"), field, req.Value)
	respondSession(w, r, http.StatusOK, sess, err)
}

func (s *Server) handleRemoveItem(w http.ResponseWriter, r *http.Request) {
	sess, err := s.service.RemoveItem(r.PathValue("id"), r.PathValue("itemID"))
	respondSession(w, r, http.StatusOK, sess, err)
}

// handleFeeQuote previews a service fee entry as the user types it
func (s *Server) handleFeeQuote(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	quote, err := s.service.QuoteFee(r.PathValue("id"), bill.ParseFeeMode(q.Get("mode")), q.Get("value"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Establishment string `json:"establishment"`
		FeeMode       string `json:"fee_mode"`
		FeeValue      string `json:"fee_value"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	sess, err := s.service.ConfirmVerification(r.PathValue("id"), req.Establishment, bill.ParseFeeMode(req.FeeMode), req.FeeValue)
	respondSession(w, r, http.StatusOK, sess, err)
}

func (s *Server) handleAddPerson(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	sess, person, err := s.service.AddPerson(r.PathValue("id"), req.Name)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"person":  person,
		"session": sess,
	})
}

func (s *Server) handleRemovePerson(w http.ResponseWriter, r *http.Request) {
	sess, err := s.service.RemovePerson(r.PathValue("id"), r.PathValue("personID"))
	respondSession(w, r, http.StatusOK, sess, err)
}

func (s *Server) handleToggleAssignment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ItemID   string `json:"item_id"`
		PersonID string `json:"person_id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ItemID == "" || req.PersonID == "" {
		jsonError(w, "item_id and person_id are required", http.StatusBadRequest)
		return
	}

	sess, err := s.service.ToggleAssignment(r.PathValue("id"), req.ItemID, req.PersonID)
	respondSession(w, r, http.StatusOK, sess, err)
}

func (s *Server) handleAdvance(w http.ResponseWriter, r *http.Request) {
	sess, err := s.service.Advance(r.PathValue("id"))
	respondSession(w, r, http.StatusOK, sess, err)
}

func (s *Server) handleToggleServiceFee(w http.ResponseWriter, r *http.Request) {
	sess, err := s.service.ToggleServiceFee(r.PathValue("id"), r.PathValue("personID"))
	respondSession(w, r, http.StatusOK, sess, err)
}

func (s *Server) handleSplits(w http.ResponseWriter, r *http.Request) {
	breakdown, err := s.service.Splits(r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, breakdown)
}

// handleSummary returns the plain text block people paste into a chat
func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.service.Summary(r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, summary)
}
