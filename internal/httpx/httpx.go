package httpx

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// NewClient returns a client without a cookie jar; session cookies are
// threaded by hand so each request carries exactly what the caller composed.
func NewClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}

// CookieHeader joins name=value pairs in order. Empty values are kept,
// since the catalog expects a bare "sl_jwt_sign=".
func CookieHeader(pairs ...[2]string) string {
	parts := make([]string, 0, len(pairs))
	for _, p := range pairs {
		parts = append(parts, p[0]+"="+p[1])
	}
	return strings.Join(parts, "; ")
}

// ResponseCookie returns the value of the named Set-Cookie entry.
func ResponseCookie(resp *http.Response, name string) string {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}

// SetBrowserHeaders makes a cross-site XHR look like it came from a
// Chrome page served by origin.
func SetBrowserHeaders(req *http.Request, userAgent, origin string) {
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Accept-Language", "zh-CN,zh;q=0.9")
	req.Header.Set("sec-ch-ua-platform", `"Windows"`)
	req.Header.Set("sec-ch-ua", `"Chromium";v="142", "Google Chrome";v="142", "Not_A Brand";v="99"`)
	req.Header.Set("sec-ch-ua-mobile", "?0")
	req.Header.Set("Sec-Fetch-Site", "cross-site")
	req.Header.Set("Sec-Fetch-Mode", "cors")
	req.Header.Set("Sec-Fetch-Dest", "empty")
	if origin != "" {
		req.Header.Set("Origin", origin)
		req.Header.Set("Referer", origin+"/")
	}
}

// Snippet reads at most n bytes of body for log lines.
func Snippet(r io.Reader, n int64) string {
	b, _ := io.ReadAll(io.LimitReader(r, n))
	return string(b)
}

func StatusError(resp *http.Response) error {
	return fmt.Errorf("server error: %s", resp.Status)
}
