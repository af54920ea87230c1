package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"hawker-score/internal/apperr"
)

// envelope is the success body: {"data": ..., "meta": ..., "not_found": [...]}
type envelope struct {
	Data     interface{} `json:"data"`
	Meta     interface{} `json:"meta,omitempty"`
	NotFound []string    `json:"not_found,omitempty"`
}

// ErrorBody is the error body: {"error": {"code": ..., "message": ...}}
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes a failed request
type ErrorDetail struct {
	Code       apperr.Kind `json:"code"`
	Message    string      `json:"message"`
	SnapshotID string      `json:"snapshot_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeRaw writes an already encoded JSON body
func writeRaw(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}

func writeData(w http.ResponseWriter, status int, data interface{}) {
	writeJSON(w, status, envelope{Data: data})
}

// writeError maps err to its HTTP status and logs server-side failures
func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	h.writeErrorDetail(w, r, err, "")
}

func (h *Handlers) writeErrorDetail(w http.ResponseWriter, r *http.Request, err error, snapshotID string) {
	kind := apperr.KindOf(err)
	status := apperr.Status(kind)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", requestIDFrom(r)),
			zap.Error(err))
	}
	writeJSON(w, status, ErrorBody{Error: ErrorDetail{
		Code:       kind,
		Message:    apperr.PublicMessage(err),
		SnapshotID: snapshotID,
	}})
}

var validate = newValidator()

// newValidator reports request field errors by their JSON names
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validateRequest runs struct tag validation and converts failures into a
// validation error naming the first offending field
func validateRequest(v interface{}) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return apperr.Validation("invalid request: %v", err)
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return apperr.Validation("%s is required", fe.Field())
	case "oneof":
		return apperr.Validation("%s must be one of: %s", fe.Field(), strings.ReplaceAll(fe.Param(), " ", ", "))
	default:
		return apperr.Validation("%s failed %s", fe.Field(), constraint(fe))
	}
}

func constraint(fe validator.FieldError) string {
	if fe.Param() == "" {
		return fe.Tag()
	}
	return fmt.Sprintf("%s=%s", fe.Tag(), fe.Param())
}

// decodeJSON reads a JSON request body into v and validates it
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apperr.Validation("invalid JSON body: %v", err)
	}
	return validateRequest(v)
}

// decodeOptionalJSON is decodeJSON for endpoints where the body may be empty
func decodeOptionalJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		return apperr.Validation("invalid request body: %v", err)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		return apperr.Validation("invalid JSON body: %v", err)
	}
	return validateRequest(v)
}
