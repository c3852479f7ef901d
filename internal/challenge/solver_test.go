package challenge

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

const landingPage = `<html><head>
<script src="/.safeline/static/challenge.js"></script>
<script>window.onload = function () { SafeLineChallenge("cid-123", { level: 1 }) }</script>
</head><body></body></html>`

type mockChallenge struct {
	issueFailures int32
	issueCalls    atomic.Int32
	jwt           string

	mu         sync.Mutex
	verifyBody map[string]any
}

func (m *mockChallenge) verified() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.verifyBody
}

func (m *mockChallenge) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(landingPage))
	})
	mux.HandleFunc(issuePath, func(w http.ResponseWriter, r *http.Request) {
		n := m.issueCalls.Add(1)
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("issue body: %v", err)
		}
		if body["client_id"] != "cid-123" || body["level"] != float64(1) {
			t.Errorf("issue body = %v", body)
		}
		if n <= m.issueFailures {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"data":{"data":[1,2,3],"issue_id":"x"}}`))
	})
	mux.HandleFunc(verifyPath, func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		json.NewDecoder(r.Body).Decode(&m.verifyBody)
		m.mu.Unlock()
		if m.jwt == "" {
			w.Write([]byte(`{"data":{}}`))
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"data": map[string]string{"jwt": m.jwt}})
	})
	return mux
}

func newTestSolver(url string) *Solver {
	s := NewSolver(&http.Client{Timeout: 5 * time.Second}, url, url, "test-agent")
	s.retryDelay = time.Millisecond
	return s
}

func TestSolve(t *testing.T) {
	mock := &mockChallenge{issueFailures: 2, jwt: "challenge-jwt"}
	srv := httptest.NewServer(mock.handler(t))
	defer srv.Close()

	jwt, err := newTestSolver(srv.URL).Solve(t.Context())
	if err != nil {
		t.Fatalf("Solve() error = %v", err)
	}
	if jwt != "challenge-jwt" {
		t.Errorf("jwt = %q", jwt)
	}
	if got := mock.issueCalls.Load(); got != 3 {
		t.Errorf("issue calls = %d, want 3", got)
	}

	body := mock.verified()
	if body["issue_id"] != "x" {
		t.Errorf("verify issue_id = %v", body["issue_id"])
	}
	var result []int
	for _, v := range body["result"].([]any) {
		result = append(result, int(v.(float64)))
	}
	if !reflect.DeepEqual(result, []int{38, 28, 24, 34}) {
		t.Errorf("verify result = %v", result)
	}
	if serials, ok := body["serials"].([]any); !ok || len(serials) != 0 {
		t.Errorf("verify serials = %v, want empty list", body["serials"])
	}
	client := body["client"].(map[string]any)
	if client["visitorId"] != "cid-123" || client["userAgent"] != "test-agent" {
		t.Errorf("verify client = %v", client)
	}
}

func TestIssueExhaustsRetries(t *testing.T) {
	mock := &mockChallenge{issueFailures: 10, jwt: "unused"}
	srv := httptest.NewServer(mock.handler(t))
	defer srv.Close()

	_, err := newTestSolver(srv.URL).Solve(t.Context())
	if !errors.Is(err, ErrIssueRetrievalFailed) {
		t.Fatalf("error = %v, want ErrIssueRetrievalFailed", err)
	}
	var cerr *Error
	if !errors.As(err, &cerr) || cerr.Step != "issue" {
		t.Errorf("error = %#v, want *Error at issue step", err)
	}
	if got := mock.issueCalls.Load(); got != maxAttempts {
		t.Errorf("issue calls = %d, want %d", got, maxAttempts)
	}
}

func TestIssueMalformedJSON(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"data":`))
	}))
	defer srv.Close()

	_, err := newTestSolver(srv.URL).Issue(t.Context(), "cid")
	if !errors.Is(err, ErrIssueRetrievalFailed) {
		t.Fatalf("error = %v, want ErrIssueRetrievalFailed", err)
	}
	if calls.Load() != maxAttempts {
		t.Errorf("calls = %d, want %d", calls.Load(), maxAttempts)
	}
}

func TestVerifyMissingJWT(t *testing.T) {
	mock := &mockChallenge{}
	srv := httptest.NewServer(mock.handler(t))
	defer srv.Close()

	_, err := newTestSolver(srv.URL).Solve(t.Context())
	if !errors.Is(err, ErrVerificationFailed) {
		t.Fatalf("error = %v, want ErrVerificationFailed", err)
	}
}

func TestClientIDNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><body>maintenance</body></html>"))
	}))
	defer srv.Close()

	_, err := newTestSolver(srv.URL).Solve(t.Context())
	if !errors.Is(err, ErrClientIDNotFound) {
		t.Fatalf("error = %v, want ErrClientIDNotFound", err)
	}
}

func TestExtractClientID(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"inline script", landingPage, "cid-123"},
		{"not html", `var x = SafeLineChallenge("raw-id")`, "raw-id"},
		{"absent", `<script>console.log("hi")</script>`, ""},
		{"empty id", `<script>SafeLineChallenge("")</script>`, ""},
		{"script beats earlier comment", `<html><body><!-- SafeLineChallenge("stale-id") --><script>SafeLineChallenge("live-id")</script></body></html>`, "live-id"},
		{"attribute only", `<div data-init='SafeLineChallenge("attr-id")'></div>`, "attr-id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractClientID([]byte(tt.body)); got != tt.want {
				t.Errorf("ExtractClientID() = %q, want %q", got, tt.want)
			}
		})
	}
}
