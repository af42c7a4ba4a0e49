package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/golang/glog"

	qerrors "github.com/qrlew/qrlew-go/internal/errors"
)

var validate = validator.New()

// StatusFor maps an engine error to an HTTP status.
func StatusFor(err error) int {
	switch qerrors.GetCategory(err) {
	case qerrors.ErrCategoryInput, qerrors.ErrCategoryQuery:
		return http.StatusBadRequest
	case qerrors.ErrCategorySchema, qerrors.ErrCategoryPrivacy, qerrors.ErrCategoryBudget:
		return http.StatusUnprocessableEntity
	case qerrors.ErrCategoryStorage:
		if errors.Is(err, qerrors.ErrObjectNotFound) {
			return http.StatusNotFound
		}
		if qerrors.IsRetryable(err) {
			return http.StatusServiceUnavailable
		}
	}
	return http.StatusInternalServerError
}

// writeEngineError writes err with the status StatusFor picks. Internal
// errors are logged and their message is not exposed.
func writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	resp := ErrorResponse{
		Error:     err.Error(),
		Category:  string(qerrors.GetCategory(err)),
		Code:      qerrors.GetCode(err),
		Retryable: qerrors.IsRetryable(err),
		RequestID: GetRequestID(r.Context()),
	}
	if status == http.StatusInternalServerError {
		glog.Errorf("http: %s %s: %v [%s]", r.Method, r.URL.Path, err, resp.RequestID)
		resp.Error = "internal server error"
	}
	writeJSON(w, status, resp)
}

// decodeBody decodes a JSON body into dst and validates it. Failures are
// MALFORMED_INPUT errors.
func decodeBody(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return qerrors.NewMalformedInput(fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit), nil)
		}
		return qerrors.NewMalformedInput("invalid request body", err)
	}
	if err := validate.Struct(dst); err != nil {
		return qerrors.NewMalformedInput("invalid request", err)
	}
	return nil
}
