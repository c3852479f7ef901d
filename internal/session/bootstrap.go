package session

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"flacdl/internal/httpx"
	"flacdl/internal/models"
)

const (
	SessionCookie    = "sl-session"
	ChallengeCookie  = "sl-challenge-jwt"
	ServerCookie     = "sl-challenge-server"
	JWTSessionCookie = "sl_jwt_session"
	SignCookie       = "sl_jwt_sign"
)

var (
	ErrMissingSessionCookie = errors.New("sl-session cookie missing")
	ErrMissingJwtSession    = errors.New("sl_jwt_session cookie missing")
	ErrChallenge            = errors.New("challenge failed")
)

type Error struct {
	Step string
	Err  error
}

func (e *Error) Error() string {
	return "session " + e.Step + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Solver produces the challenge JWT.
type Solver interface {
	Solve(ctx context.Context) (string, error)
}

type Bootstrapper struct {
	client    *http.Client
	siteURL   string
	userAgent string
	solver    Solver
	now       func() time.Time
}

func NewBootstrapper(client *http.Client, siteURL, userAgent string, solver Solver) *Bootstrapper {
	return &Bootstrapper{
		client:    client,
		siteURL:   siteURL,
		userAgent: userAgent,
		solver:    solver,
		now:       time.Now,
	}
}

// Bootstrap turns a fresh landing-page visit and a solved challenge into a
// session usable for catalog calls. Any missing value aborts the run.
func (b *Bootstrapper) Bootstrap(ctx context.Context) (models.Session, error) {
	slog.Info("Bootstrapping session", "site", b.siteURL)

	sessionToken, err := b.fetchCookie(ctx, "", SessionCookie)
	if err != nil {
		return models.Session{}, &Error{Step: "landing", Err: err}
	}
	if sessionToken == "" {
		return models.Session{}, &Error{Step: "landing", Err: ErrMissingSessionCookie}
	}

	challengeJWT, err := b.solver.Solve(ctx)
	if err != nil {
		return models.Session{}, &Error{Step: "challenge", Err: errors.Join(ErrChallenge, err)}
	}

	cookie := httpx.CookieHeader(
		[2]string{SessionCookie, sessionToken},
		[2]string{ServerCookie, "cloud"},
		[2]string{ChallengeCookie, challengeJWT},
	)
	jwtSession, err := b.fetchCookie(ctx, cookie, JWTSessionCookie)
	if err != nil {
		return models.Session{}, &Error{Step: "exchange", Err: err}
	}
	if jwtSession == "" {
		return models.Session{}, &Error{Step: "exchange", Err: ErrMissingJwtSession}
	}

	slog.Info("Session ready")
	return models.Session{
		SessionToken: sessionToken,
		JWTToken:     jwtSession,
		CreatedAt:    b.now(),
	}, nil
}

func (b *Bootstrapper) fetchCookie(ctx context.Context, cookie, name string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.siteURL+"/", nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", b.userAgent)
	if cookie != "" {
		req.Header.Set("Cookie", cookie)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	return httpx.ResponseCookie(resp, name), nil
}

// CookieHeader is what catalog calls present for an established session.
func CookieHeader(s models.Session) string {
	return httpx.CookieHeader(
		[2]string{SessionCookie, s.SessionToken},
		[2]string{JWTSessionCookie, s.JWTToken},
		[2]string{SignCookie, ""},
	)
}
