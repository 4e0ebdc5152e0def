package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"knowledge-qa/internal/config"
	"knowledge-qa/internal/models"
	"knowledge-qa/internal/pipeline"
)

const handbook = `Employees receive twenty five days of paid leave per year.

Remote work is allowed on Mondays and Fridays.

Expense reports are due by the fifth of each month.`

func newTestServer(t *testing.T, embeddingProvider string) *httptest.Server {
	t.Helper()
	cfg := config.Default()
	cfg.Index.Embedding = embeddingProvider
	cfg.Index.VectorStore = "memory"
	cfg.InferenceLLM.Provider = "debug"
	cfg.Chunking.Size = 80
	cfg.Server.MaxUploadBytes = 1 << 20

	svc, err := pipeline.NewService(cfg)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	sessions := pipeline.NewStore(time.Hour)
	ts := httptest.NewServer(NewServer(svc, sessions, cfg.Server))
	t.Cleanup(func() {
		ts.Close()
		sessions.CloseAll()
		svc.Close()
	})
	return ts
}

func createSession(t *testing.T, ts *httptest.Server) string {
	t.Helper()
	resp, err := http.Post(ts.URL+"/api/sessions", "application/json", nil)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create session: status %d", resp.StatusCode)
	}
	var body map[string]string
	json.NewDecoder(resp.Body).Decode(&body)
	if body["session_id"] == "" {
		t.Fatalf("missing session_id")
	}
	return body["session_id"]
}

func upload(t *testing.T, ts *httptest.Server, id, name, content string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", name)
	if err != nil {
		t.Fatal(err)
	}
	fw.Write([]byte(content))
	mw.Close()

	resp, err := http.Post(ts.URL+"/api/sessions/"+id+"/documents", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	return resp
}

func query(t *testing.T, ts *httptest.Server, id, q string, returnAll bool) *http.Response {
	t.Helper()
	body, _ := json.Marshal(queryRequest{Query: q, ReturnAll: returnAll})
	resp, err := http.Post(ts.URL+"/api/sessions/"+id+"/query", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	return resp
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, "debug")
	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status %d", resp.StatusCode)
	}
}

func TestUploadAndQuery(t *testing.T) {
	ts := newTestServer(t, "debug")
	id := createSession(t, ts)

	resp := upload(t, ts, id, "handbook.txt", handbook)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("upload: status %d", resp.StatusCode)
	}
	var summary pipeline.UploadSummary
	json.NewDecoder(resp.Body).Decode(&summary)
	if summary.Chunks < 2 || summary.FileName != "handbook.txt" {
		t.Fatalf("unexpected summary %+v", summary)
	}

	qresp := query(t, ts, id, "Which days can I work remotely on?", false)
	defer qresp.Body.Close()
	if qresp.StatusCode != http.StatusOK {
		t.Fatalf("query: status %d", qresp.StatusCode)
	}
	var result queryResponse
	json.NewDecoder(qresp.Body).Decode(&result)
	if len(result.Sources) == 0 {
		t.Fatalf("expected sources")
	}
	if !strings.Contains(result.Sources[0].Text, "Remote work") {
		t.Errorf("expected the remote work chunk first, got %q", result.Sources[0].Text)
	}
	if result.Sources[0].Page != 1 || result.AnswerHTML == "" {
		t.Errorf("unexpected result %+v", result)
	}

	all := query(t, ts, id, "Anything?", true)
	defer all.Body.Close()
	var allResult queryResponse
	json.NewDecoder(all.Body).Decode(&allResult)
	if len(allResult.Sources) != summary.Chunks {
		t.Errorf("return_all: got %d sources, want %d", len(allResult.Sources), summary.Chunks)
	}

	doc, err := http.Get(ts.URL + "/api/sessions/" + id + "/document")
	if err != nil {
		t.Fatal(err)
	}
	defer doc.Body.Close()
	var docBody documentResponse
	json.NewDecoder(doc.Body).Decode(&docBody)
	if doc.StatusCode != http.StatusOK || !strings.Contains(docBody.HTML, "Remote work") {
		t.Errorf("document: status %d html %q", doc.StatusCode, docBody.HTML)
	}
}

func TestMissingKeyIsUnauthorized(t *testing.T) {
	ts := newTestServer(t, "openai")
	id := createSession(t, ts)

	resp := upload(t, ts, id, "handbook.txt", handbook)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestSetKey(t *testing.T) {
	ts := newTestServer(t, "debug")
	id := createSession(t, ts)

	for _, tt := range []struct {
		body string
		want int
	}{
		{`{"api_key":"sk-test"}`, http.StatusNoContent},
		{`{"api_key":"  "}`, http.StatusBadRequest},
		{`not json`, http.StatusBadRequest},
	} {
		req, _ := http.NewRequest(http.MethodPut, ts.URL+"/api/sessions/"+id+"/key", strings.NewReader(tt.body))
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != tt.want {
			t.Errorf("%s: expected %d, got %d", tt.body, tt.want, resp.StatusCode)
		}
	}
}

func TestErrorStatuses(t *testing.T) {
	ts := newTestServer(t, "debug")
	id := createSession(t, ts)

	q := query(t, ts, id, "anything?", false)
	q.Body.Close()
	if q.StatusCode != http.StatusConflict {
		t.Errorf("query without document: expected 409, got %d", q.StatusCode)
	}

	u := upload(t, ts, id, "deck.pptx", "x")
	u.Body.Close()
	if u.StatusCode != http.StatusUnsupportedMediaType {
		t.Errorf("unsupported type: expected 415, got %d", u.StatusCode)
	}

	e := upload(t, ts, id, "empty.txt", "   ")
	e.Body.Close()
	if e.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("empty document: expected 422, got %d", e.StatusCode)
	}

	b := query(t, ts, id, "  ", false)
	b.Body.Close()
	if b.StatusCode != http.StatusBadRequest {
		t.Errorf("blank query: expected 400, got %d", b.StatusCode)
	}

	big := upload(t, ts, id, "big.txt", strings.Repeat("a", 3<<19))
	big.Body.Close()
	if big.StatusCode != http.StatusRequestEntityTooLarge {
		t.Errorf("oversized upload: expected 413, got %d", big.StatusCode)
	}

	unknown := query(t, ts, "no-such-session", "hello?", false)
	unknown.Body.Close()
	if unknown.StatusCode != http.StatusNotFound {
		t.Errorf("unknown session: expected 404, got %d", unknown.StatusCode)
	}
}

func TestDeleteSession(t *testing.T) {
	ts := newTestServer(t, "debug")
	id := createSession(t, ts)

	for _, want := range []int{http.StatusNoContent, http.StatusNotFound} {
		req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/api/sessions/"+id, nil)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != want {
			t.Errorf("expected %d, got %d", want, resp.StatusCode)
		}
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{models.ErrSessionClosed, http.StatusNotFound},
		{fmt.Errorf("wrapped: %w", models.ErrNoIndex), http.StatusConflict},
		{models.ErrGeneration, http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("%v: got %d, want %d", tt.err, got, tt.want)
		}
	}
}
