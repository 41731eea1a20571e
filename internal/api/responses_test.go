package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

func newRequestWithChiParam(key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	req := httptest.NewRequest("GET", "/", nil)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

// ── ParsePagination ──────────────────────────────────────────────────

func TestParsePagination(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/", nil)
		p, err := ParsePagination(req)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if p.Limit != 50 || p.Offset != 0 {
			t.Errorf("got %+v, want Limit=50 Offset=0", p)
		}
	})

	t.Run("valid_custom", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/?limit=25&offset=10", nil)
		p, err := ParsePagination(req)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if p.Limit != 25 || p.Offset != 10 {
			t.Errorf("got %+v, want Limit=25 Offset=10", p)
		}
	})

	t.Run("zero_limit_rejected", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/?limit=0", nil)
		if _, err := ParsePagination(req); err == nil {
			t.Error("expected error for limit=0")
		}
	})

	t.Run("negative_offset_rejected", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/?offset=-5", nil)
		if _, err := ParsePagination(req); err == nil {
			t.Error("expected error for negative offset")
		}
	})

	t.Run("non_numeric_rejected", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/?limit=abc", nil)
		if _, err := ParsePagination(req); err == nil {
			t.Error("expected error for non-numeric limit")
		}
	})
}

// ── ParseSort ────────────────────────────────────────────────────────

func TestParseSort(t *testing.T) {
	allowed := map[string]string{
		"name":      "speaker_name",
		"createdAt": "created_at",
		"id":        "cluster_id",
	}

	tests := []struct {
		name         string
		query        string
		defaultField string
		wantField    string
		wantDesc     bool
	}{
		{"no_sort_uses_default", "", "name", "name", false},
		{"default_with_dash_prefix", "", "-createdAt", "createdAt", true},
		{"explicit_sort_param", "sort=id", "name", "id", false},
		{"sort_dash_prefix", "sort=-createdAt", "name", "createdAt", true},
		{"sort_dir_desc", "sort=name&sort_dir=desc", "id", "name", true},
		{"invalid_field_falls_back", "sort=bogus", "name", "name", false},
		{"dash_invalid_field_uses_default", "sort=-bogus", "name", "name", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/?"+tt.query, nil)
			s := ParseSort(req, tt.defaultField, allowed)
			if s.Field != tt.wantField {
				t.Errorf("Field = %q, want %q", s.Field, tt.wantField)
			}
			if s.Desc != tt.wantDesc {
				t.Errorf("Desc = %v, want %v", s.Desc, tt.wantDesc)
			}
		})
	}
}

// ── SortParam SQL helpers ────────────────────────────────────────────

func TestSortParamSQL(t *testing.T) {
	allowed := map[string]string{
		"name": "speaker_name",
		"id":   "cluster_id",
	}

	t.Run("SQLColumn_with_mapping", func(t *testing.T) {
		s := SortParam{Field: "name"}
		if got := s.SQLColumn(allowed); got != "speaker_name" {
			t.Errorf("SQLColumn = %q, want %q", got, "speaker_name")
		}
	})

	t.Run("SQLDirection_ASC", func(t *testing.T) {
		s := SortParam{Desc: false}
		if got := s.SQLDirection(); got != "ASC" {
			t.Errorf("SQLDirection = %q, want %q", got, "ASC")
		}
	})

	t.Run("SQLDirection_DESC", func(t *testing.T) {
		s := SortParam{Desc: true}
		if got := s.SQLDirection(); got != "DESC" {
			t.Errorf("SQLDirection = %q, want %q", got, "DESC")
		}
	})

	t.Run("SQLOrderBy", func(t *testing.T) {
		s := SortParam{Field: "name", Desc: true}
		if got := s.SQLOrderBy(allowed); got != "speaker_name DESC" {
			t.Errorf("SQLOrderBy = %q, want %q", got, "speaker_name DESC")
		}
	})
}

// ── Query* helpers ───────────────────────────────────────────────────

func TestQueryInt(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/?n=42", nil)
		v, ok := QueryInt(req, "n")
		if !ok || v != 42 {
			t.Errorf("got (%d, %v), want (42, true)", v, ok)
		}
	})
	t.Run("missing", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/", nil)
		if _, ok := QueryInt(req, "n"); ok {
			t.Error("expected ok=false for missing param")
		}
	})
	t.Run("non_numeric", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/?n=abc", nil)
		if _, ok := QueryInt(req, "n"); ok {
			t.Error("expected ok=false for non-numeric param")
		}
	})
}

func TestQueryBool(t *testing.T) {
	t.Run("true", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/?flag=true", nil)
		v, ok := QueryBool(req, "flag")
		if !ok || !v {
			t.Errorf("got (%v, %v), want (true, true)", v, ok)
		}
	})
	t.Run("invalid", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/?flag=maybe", nil)
		if _, ok := QueryBool(req, "flag"); ok {
			t.Error("expected ok=false")
		}
	})
}

func TestQueryString(t *testing.T) {
	t.Run("present", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/?q=hello", nil)
		v, ok := QueryString(req, "q")
		if !ok || v != "hello" {
			t.Errorf("got (%q, %v), want (\"hello\", true)", v, ok)
		}
	})
	t.Run("missing", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/", nil)
		if _, ok := QueryString(req, "q"); ok {
			t.Error("expected ok=false")
		}
	})
}

func TestQueryTime(t *testing.T) {
	t.Run("valid_rfc3339", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/?t=2024-01-15T10:30:00Z", nil)
		v, ok := QueryTime(req, "t")
		if !ok {
			t.Fatal("expected ok=true")
		}
		want := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
		if !v.Equal(want) {
			t.Errorf("got %v, want %v", v, want)
		}
	})
	t.Run("invalid_format", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/?t=not-a-time", nil)
		if _, ok := QueryTime(req, "t"); ok {
			t.Error("expected ok=false")
		}
	})
}

func TestQueryIntList(t *testing.T) {
	t.Run("missing_returns_nil", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/", nil)
		if got := QueryIntList(req, "ids"); got != nil {
			t.Errorf("got %v, want nil", got)
		}
	})
	t.Run("multiple_values", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/?ids=1,2,3", nil)
		got := QueryIntList(req, "ids")
		if len(got) != 3 || got[0] != 1 || got[1] != 2 || got[2] != 3 {
			t.Errorf("got %v, want [1 2 3]", got)
		}
	})
	t.Run("skips_invalid", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/?ids=1,abc,3", nil)
		got := QueryIntList(req, "ids")
		if len(got) != 2 || got[0] != 1 || got[1] != 3 {
			t.Errorf("got %v, want [1 3]", got)
		}
	})
}

func TestQueryIntListAliased(t *testing.T) {
	t.Run("prefers_first_nonempty", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/?clusterIds=1,2", nil)
		got := QueryIntListAliased(req, "clusterId", "clusterIds")
		if len(got) != 2 || got[0] != 1 || got[1] != 2 {
			t.Errorf("got %v, want [1 2]", got)
		}
	})
	t.Run("all_missing_returns_nil", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/", nil)
		if got := QueryIntListAliased(req, "a", "b"); got != nil {
			t.Errorf("got %v, want nil", got)
		}
	})
}

// ── PathInt / PathInt64 ──────────────────────────────────────────────

func TestPathInt(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		req := newRequestWithChiParam("id", "42")
		v, err := PathInt(req, "id")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if v != 42 {
			t.Errorf("got %d, want 42", v)
		}
	})
	t.Run("missing", func(t *testing.T) {
		rctx := chi.NewRouteContext()
		req := httptest.NewRequest("GET", "/", nil)
		req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
		if _, err := PathInt(req, "id"); err == nil {
			t.Error("expected error for missing param")
		}
	})
	t.Run("non_numeric", func(t *testing.T) {
		req := newRequestWithChiParam("id", "abc")
		if _, err := PathInt(req, "id"); err == nil {
			t.Error("expected error for non-numeric param")
		}
	})
}

// ── WriteJSON / WriteError / WriteErrorWithCode ─────────────────────

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSON(rec, http.StatusCreated, map[string]string{"msg": "ok"})

	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusCreated)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("JSON decode: %v", err)
	}
	if body["msg"] != "ok" {
		t.Errorf("body = %v, want msg=ok", body)
	}
}

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, http.StatusBadRequest, "bad input")

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	var body ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("JSON decode: %v", err)
	}
	if body.Error != "bad input" {
		t.Errorf("Error = %q, want %q", body.Error, "bad input")
	}
}

func TestWriteErrorDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteErrorDetail(rec, http.StatusUnprocessableEntity, "validation failed", "name is required")

	var body ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("JSON decode: %v", err)
	}
	if body.Error != "validation failed" || body.Detail != "name is required" {
		t.Errorf("got %+v", body)
	}
}

func TestWriteErrorWithCode(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteErrorWithCode(rec, http.StatusForbidden, ErrForbidden, "write operations require WRITE_TOKEN")

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusForbidden)
	}
	var body struct {
		Code  string `json:"code"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("JSON decode: %v", err)
	}
	if body.Code != string(ErrForbidden) {
		t.Errorf("Code = %q, want %q", body.Code, ErrForbidden)
	}
	if body.Error != "write operations require WRITE_TOKEN" {
		t.Errorf("Error = %q, want %q", body.Error, "write operations require WRITE_TOKEN")
	}
}

// ── DecodeJSON ───────────────────────────────────────────────────────

func TestDecodeJSON(t *testing.T) {
	t.Run("valid_body", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/", strings.NewReader(`{"name":"test"}`))
		var dst struct {
			Name string `json:"name"`
		}
		if err := DecodeJSON(req, &dst); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if dst.Name != "test" {
			t.Errorf("Name = %q, want %q", dst.Name, "test")
		}
	})
	t.Run("nil_body", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/", nil)
		req.Body = nil
		var dst struct{}
		if err := DecodeJSON(req, &dst); err == nil {
			t.Error("expected error for nil body")
		}
	})
	t.Run("malformed_json", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/", strings.NewReader(`{bad`))
		var dst struct{}
		if err := DecodeJSON(req, &dst); err == nil {
			t.Error("expected error for malformed JSON")
		}
	})
}
