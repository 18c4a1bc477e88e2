package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/erazemk/zaloga/internal/logger"
	"github.com/erazemk/zaloga/internal/model"
	"github.com/erazemk/zaloga/internal/repository"
)

// maxBodySize bounds JSON request bodies. Bulk loads may carry inline images.
const maxBodySize = 32 << 20

var validate = validator.New()

// jsonResponse writes a JSON response with the given status code.
func jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("error encoding response", "error", err)
		}
	}
}

// jsonError writes a JSON error response.
func jsonError(w http.ResponseWriter, status int, message string) {
	jsonResponse(w, status, repository.ErrorResponse{Error: message})
}

// domainError maps a domain error to its status code and writes it with the
// error code clients use to rebuild the sentinel.
func domainError(w http.ResponseWriter, r *http.Request, err error) {
	domainErrorWithItem(w, r, err, nil)
}

func domainErrorWithItem(w http.ResponseWriter, r *http.Request, err error, item *model.Item) {
	code := model.ErrorCode(err)
	status := http.StatusInternalServerError
	switch code {
	case model.CodeEmptyName, model.CodeInvalidQuantity, model.CodeValidation, model.CodeMalformedBackup:
		status = http.StatusBadRequest
	case model.CodeNegativeStock:
		status = http.StatusConflict
	case model.CodeNotFound:
		status = http.StatusNotFound
	case model.CodeUnavailable:
		status = http.StatusServiceUnavailable
	}

	msg := err.Error()
	if status >= 500 {
		logger.FromContext(r.Context()).Error("request failed", "error", err)
		msg = "internal error"
		if status == http.StatusServiceUnavailable {
			msg = "store unavailable"
		}
	}
	jsonResponse(w, status, repository.ErrorResponse{Error: msg, Code: code, Item: item})
}

// decodeJSON decodes a JSON request body into target. Domain types are
// checked by the repository, which reports the specific error code.
func decodeJSON(w http.ResponseWriter, r *http.Request, target any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		return fmt.Errorf("%w: invalid request body: %w", model.ErrValidation, err)
	}
	return nil
}

// decodeValid decodes a request type carrying validate tags and checks them.
func decodeValid(w http.ResponseWriter, r *http.Request, target any) error {
	if err := decodeJSON(w, r, target); err != nil {
		return err
	}
	if err := validate.Struct(target); err != nil {
		return fmt.Errorf("%w: %w", model.ErrValidation, err)
	}
	return nil
}

func notFoundBody(message string) repository.ErrorResponse {
	return repository.ErrorResponse{Error: message, Code: model.CodeNotFound}
}
