package challenge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"github.com/PuerkitoBio/goquery"

	"flacdl/internal/httpx"
	"flacdl/internal/models"
)

const (
	issuePath   = "/challenge/v2/api/issue"
	verifyPath  = "/challenge/v2/api/verify"
	maxAttempts = 3
	retryDelay  = 1 * time.Second
)

var (
	ErrClientIDNotFound     = errors.New("client id not found")
	ErrIssueRetrievalFailed = errors.New("issue retrieval failed")
	ErrVerificationFailed   = errors.New("verification failed")
)

var clientIDPattern = regexp.MustCompile(`SafeLineChallenge\("([^"]+)"`)

// Error reports which step of the handshake failed.
type Error struct {
	Step string
	Err  error
}

func (e *Error) Error() string {
	return "challenge " + e.Step + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

type Solver struct {
	client       *http.Client
	siteURL      string
	challengeURL string
	userAgent    string
	retryDelay   time.Duration
}

func NewSolver(client *http.Client, siteURL, challengeURL, userAgent string) *Solver {
	return &Solver{
		client:       client,
		siteURL:      siteURL,
		challengeURL: challengeURL,
		userAgent:    userAgent,
		retryDelay:   retryDelay,
	}
}

// Solve runs the full handshake and returns the verification JWT.
func (s *Solver) Solve(ctx context.Context) (string, error) {
	clientID, err := s.FetchClientID(ctx)
	if err != nil {
		return "", err
	}
	slog.Debug("Challenge client id", "clientId", clientID)

	issue, err := s.Issue(ctx, clientID)
	if err != nil {
		return "", err
	}

	proof, err := ComputeProof(issue.Data)
	if err != nil {
		return "", &Error{Step: "proof", Err: err}
	}
	slog.Debug("Computed proof", "issueId", issue.IssueID, "digits", len(proof))

	return s.Verify(ctx, issue, proof)
}

// FetchClientID loads the landing page and pulls the id passed to the
// challenge bootstrap script.
func (s *Solver) FetchClientID(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.siteURL+"/", nil)
	if err != nil {
		return "", &Error{Step: "client id", Err: err}
	}
	req.Header.Set("User-Agent", s.userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", &Error{Step: "client id", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &Error{Step: "client id", Err: err}
	}

	id := ExtractClientID(body)
	if id == "" {
		return "", &Error{Step: "client id", Err: ErrClientIDNotFound}
	}
	return id, nil
}

// ExtractClientID scans inline scripts first, so a call that appears in an
// HTML comment or attribute earlier in the page is ignored. The raw body is
// searched only when no script carries an id.
func ExtractClientID(body []byte) string {
	var id string
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err == nil {
		doc.Find("script").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
			if m := clientIDPattern.FindStringSubmatch(sel.Text()); m != nil {
				id = m[1]
				return false
			}
			return true
		})
	}
	if id != "" {
		return id
	}
	if m := clientIDPattern.FindSubmatch(body); m != nil {
		return string(m[1])
	}
	return ""
}

type issueResponse struct {
	Data *struct {
		Data    []int  `json:"data"`
		IssueID string `json:"issue_id"`
	} `json:"data"`
}

// Issue requests a challenge, retrying a fixed number of times with a fixed
// delay on transport errors, non-200 replies or unusable bodies.
func (s *Solver) Issue(ctx context.Context, clientID string) (models.ChallengeIssue, error) {
	payload, _ := json.Marshal(map[string]any{"client_id": clientID, "level": 1})

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(s.retryDelay):
			case <-ctx.Done():
				return models.ChallengeIssue{}, &Error{Step: "issue", Err: ctx.Err()}
			}
		}

		slog.Info("Requesting challenge issue", "attempt", attempt, "max", maxAttempts)
		issue, err := s.issueOnce(ctx, clientID, payload)
		if err == nil {
			slog.Info("Challenge issued", "issueId", issue.IssueID)
			return issue, nil
		}
		lastErr = err
		slog.Warn("Challenge issue attempt failed", "attempt", attempt, "error", err)
	}

	return models.ChallengeIssue{}, &Error{
		Step: "issue",
		Err:  fmt.Errorf("%w after %d attempts: %w", ErrIssueRetrievalFailed, maxAttempts, lastErr),
	}
}

func (s *Solver) issueOnce(ctx context.Context, clientID string, payload []byte) (models.ChallengeIssue, error) {
	resp, err := s.postJSON(ctx, issuePath, payload)
	if err != nil {
		return models.ChallengeIssue{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		slog.Debug("Issue response body", "body", httpx.Snippet(resp.Body, 500))
		return models.ChallengeIssue{}, httpx.StatusError(resp)
	}

	var result issueResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return models.ChallengeIssue{}, fmt.Errorf("decode issue: %w", err)
	}
	if result.Data == nil {
		return models.ChallengeIssue{}, errors.New("response has no data field")
	}
	if len(result.Data.Data) == 0 || result.Data.IssueID == "" {
		return models.ChallengeIssue{}, errors.New("issue data or issue_id is empty")
	}

	return models.ChallengeIssue{
		ClientID: clientID,
		Data:     result.Data.Data,
		IssueID:  result.Data.IssueID,
	}, nil
}

type clientInfo struct {
	UserAgent string   `json:"userAgent"`
	Platform  string   `json:"platform"`
	Language  string   `json:"language"`
	Vendor    string   `json:"vendor"`
	Screen    [2]int   `json:"screen"`
	VisitorID string   `json:"visitorId"`
	Score     int      `json:"score"`
	Target    []string `json:"target"`
}

type verifyRequest struct {
	IssueID string     `json:"issue_id"`
	Result  []int      `json:"result"`
	Serials []string   `json:"serials"`
	Client  clientInfo `json:"client"`
}

type verifyResponse struct {
	Data *struct {
		JWT string `json:"jwt"`
	} `json:"data"`
}

// Verify exchanges the proof for the challenge JWT.
func (s *Solver) Verify(ctx context.Context, issue models.ChallengeIssue, proof []int) (string, error) {
	payload, err := json.Marshal(verifyRequest{
		IssueID: issue.IssueID,
		Result:  proof,
		Serials: []string{},
		Client: clientInfo{
			UserAgent: s.userAgent,
			Platform:  "Win32",
			Language:  "zh-CN,zh",
			Vendor:    "Google Inc.",
			Screen:    [2]int{1920, 1080},
			VisitorID: issue.ClientID,
			Score:     0,
			Target:    []string{},
		},
	})
	if err != nil {
		return "", &Error{Step: "verify", Err: err}
	}

	resp, err := s.postJSON(ctx, verifyPath, payload)
	if err != nil {
		return "", &Error{Step: "verify", Err: err}
	}
	defer resp.Body.Close()

	var result verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", &Error{Step: "verify", Err: fmt.Errorf("%w: decode: %w", ErrVerificationFailed, err)}
	}
	if result.Data == nil || result.Data.JWT == "" {
		return "", &Error{Step: "verify", Err: ErrVerificationFailed}
	}
	return result.Data.JWT, nil
}

func (s *Solver) postJSON(ctx context.Context, path string, payload []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.challengeURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpx.SetBrowserHeaders(req, s.userAgent, s.siteURL)
	req.Header.Set("Content-Type", "application/json")
	return s.client.Do(req)
}
