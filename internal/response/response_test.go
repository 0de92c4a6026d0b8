package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nlstn/go-odata-content/internal/odataerrors"
	"github.com/nlstn/go-odata-content/internal/projector"
	"github.com/shopspring/decimal"
)

func TestWriteEntity(t *testing.T) {
	doc := projector.NewDocument()
	doc.Set("Name", "file.txt")
	doc.Set("Size", 1024)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/odata.svc/Root('file.txt')", nil)
	if err := WriteEntity(w, r, http.StatusOK, doc); err != nil {
		t.Fatalf("WriteEntity failed: %v", err)
	}
	if got := w.Body.String(); got != `{"d":{"Name":"file.txt","Size":1024}}` {
		t.Errorf("body = %s", got)
	}
	if ct := w.Header().Get(HeaderContentType); ct != ContentTypeJSON {
		t.Errorf("Content-Type = %s", ct)
	}
	if v := w.Header().Get(HeaderDataServiceVersion); v != DataServiceVersion {
		t.Errorf("DataServiceVersion = %s", v)
	}
}

func TestWriteCollection(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/odata.svc/Root", nil)
	if err := WriteCollection(w, r, projector.CollectionDocument(25, nil)); err != nil {
		t.Fatalf("WriteCollection failed: %v", err)
	}
	if got := w.Body.String(); got != `{"d":{"__count":25,"results":[]}}` {
		t.Errorf("body = %s", got)
	}
}

func TestHeadWritesNoBody(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodHead, "/odata.svc/Root", nil)
	if err := WriteValue(w, r, "x"); err != nil {
		t.Fatalf("WriteValue failed: %v", err)
	}
	if w.Body.Len() != 0 {
		t.Errorf("HEAD body = %q", w.Body.String())
	}
	if w.Header().Get("Content-Length") == "" {
		t.Error("Content-Length missing")
	}
}

func TestWriteRaw(t *testing.T) {
	tests := []struct {
		name  string
		value interface{}
		want  string
		ct    string
	}{
		{"string", "hello", "hello", ContentTypeText},
		{"int", 42, "42", ContentTypeText},
		{"bool", true, "true", ContentTypeText},
		{"decimal", decimal.RequireFromString("10.50"), "10.5", ContentTypeText},
		{"slice", []string{"a"}, `["a"]`, ContentTypeJSON},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			if err := WriteRaw(w, r, tt.value); err != nil {
				t.Fatalf("WriteRaw failed: %v", err)
			}
			if got := w.Body.String(); got != tt.want {
				t.Errorf("body = %q, want %q", got, tt.want)
			}
			if ct := w.Header().Get(HeaderContentType); ct != tt.ct {
				t.Errorf("Content-Type = %s, want %s", ct, tt.ct)
			}
		})
	}

	w := httptest.NewRecorder()
	if err := WriteRaw(w, httptest.NewRequest(http.MethodGet, "/", nil), nil); err != nil {
		t.Fatalf("WriteRaw(nil) failed: %v", err)
	}
	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", w.Code)
	}
}

func TestWriteCount(t *testing.T) {
	w := httptest.NewRecorder()
	if err := WriteCount(w, httptest.NewRequest(http.MethodGet, "/", nil), 7); err != nil {
		t.Fatalf("WriteCount failed: %v", err)
	}
	if w.Body.String() != "7" || w.Header().Get(HeaderContentType) != ContentTypeText {
		t.Errorf("count response = %q %s", w.Body.String(), w.Header().Get(HeaderContentType))
	}
}

func TestWriteStream(t *testing.T) {
	w := httptest.NewRecorder()
	err := WriteStream(w, httptest.NewRequest(http.MethodGet, "/", nil), "", `"abc"`, 5, strings.NewReader("bytes"))
	if err != nil {
		t.Fatalf("WriteStream failed: %v", err)
	}
	if w.Body.String() != "bytes" {
		t.Errorf("body = %q", w.Body.String())
	}
	if w.Header().Get(HeaderContentType) != ContentTypeBinary || w.Header().Get(HeaderETag) != `"abc"` {
		t.Errorf("headers = %v", w.Header())
	}
}

func TestWriteODataError(t *testing.T) {
	tests := []struct {
		name   string
		err    *odataerrors.Error
		debug  bool
		status int
		inner  bool
	}{
		{"not found", odataerrors.NotFound("/Root/x"), false, http.StatusNotFound, false},
		{"denied", odataerrors.Denied("no"), false, http.StatusForbidden, false},
		{"ambiguous with debug", &odataerrors.Error{Code: odataerrors.AmbiguousMatch, Message: "two", Candidates: []string{"A()", "B()"}}, true, http.StatusInternalServerError, true},
		{"wrapped without debug", odataerrors.Wrap(odataerrors.NotSpecified, errors.New("db down"), "Internal error"), false, http.StatusInternalServerError, false},
		{"reason is always reported", odataerrors.InvalidAction(odataerrors.ReasonForbidden, "Approve"), false, http.StatusBadRequest, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			if err := WriteODataError(w, r, tt.err, tt.debug); err != nil {
				t.Fatalf("WriteODataError failed: %v", err)
			}
			if w.Code != tt.status {
				t.Errorf("status = %d, want %d", w.Code, tt.status)
			}
			var payload ErrorResponse
			if err := json.Unmarshal(w.Body.Bytes(), &payload); err != nil {
				t.Fatalf("invalid error body %s: %v", w.Body.String(), err)
			}
			if payload.Error.Code != string(tt.err.Code) || payload.Error.Message.Lang != ErrorLanguage || payload.Error.Message.Value != tt.err.Message {
				t.Errorf("payload = %+v", payload)
			}
			if (payload.Error.InnerError != nil) != tt.inner {
				t.Errorf("innererror = %+v, want present=%v", payload.Error.InnerError, tt.inner)
			}
			if !tt.debug && strings.Contains(w.Body.String(), "db down") {
				t.Error("cause leaked without debug")
			}
		})
	}
}
