package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"

	"indi/pkg/drivers/telescope"
	"indi/pkg/indi"
)

// Error numbers reported in responses.
const (
	errInvalidValue     = 0x401
	errNotConnected     = 0x407
	errInvalidOperation = 0x40B
	errUnspecified      = 0x500
)

var errMissingField = errors.New("missing field")

var txCounter atomic.Int32

type baseResponse struct {
	ServerTransactionID int    `json:"ServerTransactionID"`
	ErrorNumber         int    `json:"ErrorNumber"`
	ErrorMessage        string `json:"ErrorMessage"`
	Value               any    `json:"Value,omitempty"`
}

func handleResponse(w http.ResponseWriter, value any) {
	response := baseResponse{
		ServerTransactionID: int(txCounter.Add(1)),
		Value:               value,
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

func handleError(w http.ResponseWriter, code int, message string) {
	response := baseResponse{
		ServerTransactionID: int(txCounter.Add(1)),
		ErrorNumber:         code,
		ErrorMessage:        message,
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// valueError reports an unusable request parameter.
type valueError struct {
	field string
	err   error
}

func (e *valueError) Error() string {
	return "invalid " + e.field + ": " + e.err.Error()
}

func (e *valueError) Unwrap() error {
	return e.err
}

func invalidValue(field string, err error) error {
	return &valueError{field: field, err: err}
}

// errorCode maps controller errors onto response error numbers.
func errorCode(err error) int {
	var propErr *telescope.PropertyError
	var valErr *valueError
	switch {
	case errors.As(err, &valErr):
		return errInvalidValue
	case errors.Is(err, indi.ErrNotConnected):
		return errNotConnected
	case errors.Is(err, telescope.ErrNotAligned), errors.As(err, &propErr):
		return errInvalidOperation
	default:
		return errUnspecified
	}
}

// Helper to read and parse the request body as URL-encoded data.
func parseBodyParams(r *http.Request) (url.Values, error) {
	bodyBytes, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	// Reset the body so it can be read again later.
	r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
	return url.ParseQuery(string(bodyBytes))
}

func parseRequest(r *http.Request, field string) (string, error) {
	params, err := parseBodyParams(r)
	if err != nil {
		return "", err
	}

	value, ok := params[field]
	if !ok {
		return "", errMissingField
	}
	return value[0], nil
}

func parseBoolRequest(r *http.Request, field string) (bool, error) {
	value, err := parseRequest(r, field)
	if err != nil {
		return false, err
	}
	return strconv.ParseBool(value)
}

func parseFloatRequest(r *http.Request, field string) (float64, error) {
	value, err := parseRequest(r, field)
	if err != nil {
		return 0, err
	}
	return strconv.ParseFloat(value, 64)
}

func parseIntRequest(r *http.Request, field string) (int, error) {
	value, err := parseRequest(r, field)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(value)
}
