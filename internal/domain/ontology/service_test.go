package ontology

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/cdw/internal/graph"
)

// -- Mock Repository --

type mockRepo struct {
	published map[string]*Result
	entries   []Entry
	err       error
}

func newMockRepo() *mockRepo {
	return &mockRepo{published: make(map[string]*Result)}
}

func (m *mockRepo) Replace(_ context.Context, sourcesystem string, res *Result) (Published, error) {
	if m.err != nil {
		return Published{}, m.err
	}
	var removed int64
	if prev, ok := m.published[sourcesystem]; ok {
		removed = int64(len(prev.Entries) + len(prev.Concepts) + len(prev.Modifiers))
	}
	m.published[sourcesystem] = res
	m.entries = res.Entries
	return Published{
		Entries:   len(res.Entries),
		Concepts:  len(res.Concepts),
		Modifiers: len(res.Modifiers),
		Removed:   removed,
	}, nil
}

func (m *mockRepo) Children(_ context.Context, parent string) ([]Entry, error) {
	var out []Entry
	for _, e := range m.entries {
		if strings.HasPrefix(e.FullName, parent) && e.HLevel == HLevel(parent)+1 {
			out = append(out, e)
		}
	}
	return out, nil
}

func newTestService() (*Service, *mockRepo) {
	b, _ := newTestBuilder()
	repo := newMockRepo()
	return NewService(repo, b, zerolog.Nop()), repo
}

func TestService_PublishRequiresBuild(t *testing.T) {
	svc, _ := newTestService()
	if _, err := svc.Publish(context.Background()); !errors.Is(err, ErrNotBuilt) {
		t.Errorf("expected ErrNotBuilt, got %v", err)
	}
}

func TestService_BuildAndPublish(t *testing.T) {
	svc, repo := newTestService()
	res, err := svc.Build(observationMeta(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cur, ok := svc.Current(); !ok || cur != res {
		t.Fatal("expected build result to be kept")
	}

	out, err := svc.Publish(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Entries != len(res.Entries) || out.Removed != 0 {
		t.Errorf("unexpected publish counts %+v", out)
	}
	if repo.published["TEST"] != res {
		t.Error("expected rows tagged with the builder source system")
	}

	out, err = svc.Publish(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if out.Removed == 0 {
		t.Error("republish must replace previous rows")
	}

	repo.err = errors.New("boom")
	if _, err := svc.Publish(context.Background()); err == nil || !strings.Contains(err.Error(), "boom") {
		t.Errorf("expected wrapped repo error, got %v", err)
	}
}

func TestService_Children(t *testing.T) {
	svc, _ := newTestService()
	svc.Build(observationMeta(), nil)
	svc.Publish(context.Background())

	kids, err := svc.Children(context.Background(), `\FHIR\clinical\diagnostics\Observation\`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(kids) != 3 {
		t.Errorf("expected 3 properties, got %d", len(kids))
	}

	for _, bad := range []string{"", `\`, "FHIR", `\FHIR`} {
		if _, err := svc.Children(context.Background(), bad); !errors.Is(err, ErrInvalidPath) {
			t.Errorf("Children(%q): expected ErrInvalidPath, got %v", bad, err)
		}
	}
}

func TestHandler_BuildAndGet(t *testing.T) {
	svc, _ := newTestService()
	h := NewHandler(svc)
	e := echo.New()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/ontology", nil)
	rec := httptest.NewRecorder()
	if err := h.Get(e.NewContext(req, rec)); err == nil {
		t.Error("expected error before build")
	}

	var body bytes.Buffer
	if err := graph.WriteNTriples(&body, observationMeta()); err != nil {
		t.Fatal(err)
	}
	req = httptest.NewRequest(http.MethodPost, "/api/v1/ontology/build?root=Observation", &body)
	rec = httptest.NewRecorder()
	if err := h.Build(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var counts map[string]int
	if err := json.Unmarshal(rec.Body.Bytes(), &counts); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if counts["entries"] == 0 || counts["modifiers"] != 3 {
		t.Errorf("unexpected counts %v", counts)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/ontology", nil)
	rec = httptest.NewRecorder()
	if err := h.Get(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/ontology/publish", nil)
	rec = httptest.NewRecorder()
	if err := h.Publish(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestHandler_BuildErrors(t *testing.T) {
	svc, _ := newTestService()
	h := NewHandler(svc)
	e := echo.New()

	turtle := "@prefix fhir: <http://hl7.org/fhir/> .\nfhir:Observation fhir:label \"Observation\" .\n"
	tests := []struct {
		name, body, query, contentType string
		status                         int
	}{
		{"syntax", "<a> <b>\n", "", "", http.StatusBadRequest},
		{"empty", "", "", "", http.StatusUnprocessableEntity},
		{"turtle without content type", turtle, "", "", http.StatusBadRequest},
		{"turtle without classes", turtle, "", "text/turtle", http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/ontology/build"+tt.query, strings.NewReader(tt.body))
		if tt.contentType != "" {
			req.Header.Set(echo.HeaderContentType, tt.contentType)
		}
		rec := httptest.NewRecorder()
		err := h.Build(e.NewContext(req, rec))
		var he *echo.HTTPError
		if !errors.As(err, &he) || he.Code != tt.status {
			t.Errorf("%s: expected HTTP %d, got %v", tt.name, tt.status, err)
		}
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/ontology/publish", nil)
	rec := httptest.NewRecorder()
	err := h.Publish(e.NewContext(req, rec))
	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusConflict {
		t.Errorf("expected 409 before build, got %v", err)
	}
}
