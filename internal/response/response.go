// Package response writes OData payloads: entity and collection envelopes,
// raw values, counts and errors.
package response

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/nlstn/go-odata-content/internal/odataerrors"
	"github.com/nlstn/go-odata-content/internal/projector"
	"github.com/shopspring/decimal"
)

// Content types written by the service.
const (
	ContentTypeJSON   = "application/json;odata=verbose;charset=utf-8"
	ContentTypeXML    = "application/xml;charset=utf-8"
	ContentTypeText   = "text/plain;charset=utf-8"
	ContentTypeBinary = "application/octet-stream"
)

// Header names.
const (
	HeaderContentType        = "Content-Type"
	HeaderDataServiceVersion = "DataServiceVersion"
	HeaderETag               = "ETag"
	HeaderAllow              = "Allow"
)

// DataServiceVersion is announced on every response.
const DataServiceVersion = "2.0"

// ErrorLanguage is the lang of every error message.
const ErrorLanguage = "en-us"

// SetODataHeaders sets the headers common to every OData response.
func SetODataHeaders(w http.ResponseWriter, contentType string) {
	w.Header().Set(HeaderContentType, contentType)
	w.Header().Set(HeaderDataServiceVersion, DataServiceVersion)
}

// WriteJSON writes v with status. HEAD requests get headers only.
func WriteJSON(w http.ResponseWriter, r *http.Request, status int, v interface{}) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	SetODataHeaders(w, ContentTypeJSON)
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(status)
	if r != nil && r.Method == http.MethodHead {
		return nil
	}
	_, err = w.Write(body)
	return err
}

// WriteEntity writes {"d": doc}.
func WriteEntity(w http.ResponseWriter, r *http.Request, status int, doc *projector.Document) error {
	return WriteJSON(w, r, status, projector.Envelope(doc))
}

// WriteCollection writes {"d": {"__count": n, "results": [...]}}.
func WriteCollection(w http.ResponseWriter, r *http.Request, doc *projector.Document) error {
	return WriteJSON(w, r, http.StatusOK, projector.Envelope(doc))
}

// WriteValue writes an operation or member value as {"d": v}.
func WriteValue(w http.ResponseWriter, r *http.Request, v interface{}) error {
	return WriteJSON(w, r, http.StatusOK, projector.Envelope(v))
}

// WriteNoContent writes 204.
func WriteNoContent(w http.ResponseWriter) {
	w.Header().Set(HeaderDataServiceVersion, DataServiceVersion)
	w.WriteHeader(http.StatusNoContent)
}

// WriteCount writes n as plain text.
func WriteCount(w http.ResponseWriter, r *http.Request, n int) error {
	return WriteText(w, r, strconv.Itoa(n))
}

// WriteText writes s as plain text with status 200.
func WriteText(w http.ResponseWriter, r *http.Request, s string) error {
	SetODataHeaders(w, ContentTypeText)
	w.Header().Set("Content-Length", strconv.Itoa(len(s)))
	w.WriteHeader(http.StatusOK)
	if r != nil && r.Method == http.MethodHead {
		return nil
	}
	_, err := io.WriteString(w, s)
	return err
}

// WriteRaw writes a scalar member value for the $value segment. Non scalar
// values are written as JSON.
func WriteRaw(w http.ResponseWriter, r *http.Request, v interface{}) error {
	if v == nil {
		WriteNoContent(w)
		return nil
	}
	if s, ok := RawString(v); ok {
		return WriteText(w, r, s)
	}
	return WriteJSON(w, r, http.StatusOK, v)
}

// RawString formats scalar values the way $value presents them.
func RawString(v interface{}) (string, bool) {
	switch val := v.(type) {
	case string:
		return val, true
	case []byte:
		return string(val), true
	case bool:
		return strconv.FormatBool(val), true
	case int:
		return strconv.Itoa(val), true
	case int64:
		return strconv.FormatInt(val, 10), true
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), true
	case json.Number:
		return val.String(), true
	case decimal.Decimal:
		return val.String(), true
	case time.Time:
		return val.UTC().Format(time.RFC3339), true
	case fmt.Stringer:
		return val.String(), true
	}
	return "", false
}

// WriteStream copies body with the given content type. An empty contentType
// means application/octet-stream.
func WriteStream(w http.ResponseWriter, r *http.Request, contentType, etag string, size int64, body io.Reader) error {
	if contentType == "" {
		contentType = ContentTypeBinary
	}
	w.Header().Set(HeaderContentType, contentType)
	w.Header().Set(HeaderDataServiceVersion, DataServiceVersion)
	if etag != "" {
		w.Header().Set(HeaderETag, etag)
	}
	if size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	}
	w.WriteHeader(http.StatusOK)
	if r != nil && r.Method == http.MethodHead {
		return nil
	}
	if _, err := io.Copy(w, body); err != nil {
		return fmt.Errorf("stream body: %w", err)
	}
	return nil
}

// ErrorMessage is the message member of an error payload.
type ErrorMessage struct {
	Lang  string `json:"lang"`
	Value string `json:"value"`
}

// InnerError carries debug details.
type InnerError struct {
	Trace      string   `json:"trace,omitempty"`
	Reason     string   `json:"reason,omitempty"`
	Candidates []string `json:"candidates,omitempty"`
}

// ErrorBody is the error member of an error payload.
type ErrorBody struct {
	Code       string       `json:"code"`
	Message    ErrorMessage `json:"message"`
	InnerError *InnerError  `json:"innererror,omitempty"`
}

// ErrorResponse is the complete error payload.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// WriteError writes an error payload with the given status, code and message.
func WriteError(w http.ResponseWriter, r *http.Request, status int, code, message string) error {
	return writeErrorResponse(w, r, status, ErrorResponse{Error: ErrorBody{
		Code:    code,
		Message: ErrorMessage{Lang: ErrorLanguage, Value: message},
	}})
}

// WriteODataError writes e using its code's status. With debug set the
// payload carries an innererror with the cause chain.
func WriteODataError(w http.ResponseWriter, r *http.Request, e *odataerrors.Error, debug bool) error {
	body := ErrorBody{
		Code:    string(e.Code),
		Message: ErrorMessage{Lang: ErrorLanguage, Value: e.Message},
	}
	if debug {
		body.InnerError = &InnerError{
			Trace:      e.Error(),
			Reason:     string(e.Reason),
			Candidates: e.Candidates,
		}
	} else if e.Reason != "" {
		body.InnerError = &InnerError{Reason: string(e.Reason)}
	}
	return writeErrorResponse(w, r, e.StatusCode(), ErrorResponse{Error: body})
}

func writeErrorResponse(w http.ResponseWriter, r *http.Request, status int, payload ErrorResponse) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode error response: %w", err)
	}
	SetODataHeaders(w, ContentTypeJSON)
	w.WriteHeader(status)
	if r != nil && r.Method == http.MethodHead {
		return nil
	}
	_, err = w.Write(body)
	return err
}
