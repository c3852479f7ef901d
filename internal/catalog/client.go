package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"flacdl/internal/models"
	"flacdl/internal/session"
	"flacdl/internal/utils"
)

const (
	searchPath    = "/ajax.php?act=search"
	getURLPath    = "/ajax.php?act=getUrl"
	defaultFormat = "flac"
	unknownField  = "未知"
)

var (
	ErrSearch          = errors.New("search failed")
	ErrResolution      = errors.New("download url resolution failed")
	ErrMissingURLField = errors.New("response has no usable url")
)

type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

type Client struct {
	http    *http.Client
	baseURL string
	now     func() time.Time
}

func NewClient(client *http.Client, baseURL string) *Client {
	return &Client{http: client, baseURL: baseURL, now: time.Now}
}

type searchResponse struct {
	Data json.RawMessage `json:"data"`
}

type searchData struct {
	Total json.RawMessage `json:"total"`
	List  json.RawMessage `json:"list"`
}

type searchItem struct {
	ID       any `json:"id"`
	Name     any `json:"name"`
	Artist   any `json:"artist"`
	Album    any `json:"album_name"`
	Duration any `json:"duration"`
	Sign     any `json:"sign"`
	Time     any `json:"time"`
}

// Search returns one page of results. The response is read defensively:
// a non-object data, a non-numeric total or a malformed item degrade to
// empty values instead of failing the page.
func (c *Client) Search(ctx context.Context, sess models.Session, keywords string, page, pageSize int) (models.SearchPage, error) {
	if page < 1 {
		page = 1
	}
	form := url.Values{}
	form.Set("keyword", keywords)
	form.Set("page", strconv.Itoa(page))
	form.Set("size", strconv.Itoa(pageSize))

	slog.Info("Searching", "keywords", keywords, "page", page, "size", pageSize)

	result := models.SearchPage{Keywords: keywords, Page: page, PageSize: pageSize, Tracks: []models.Track{}}

	var resp searchResponse
	if err := c.post(ctx, sess, searchPath, form.Encode(), &resp); err != nil {
		return result, &Error{Op: "search", Err: fmt.Errorf("%w: %w", ErrSearch, err)}
	}

	var data searchData
	if err := decodeNumbers(resp.Data, &data); err != nil {
		slog.Debug("Search data is not an object", "keywords", keywords, "error", err)
	}
	result.Total = parseTotal(data.Total)
	var list []json.RawMessage
	if err := decodeNumbers(data.List, &list); err != nil {
		slog.Debug("Search list is not an array", "keywords", keywords, "error", err)
	}
	for i, raw := range list {
		var item searchItem
		if err := decodeNumbers(raw, &item); err != nil {
			slog.Warn("Skipping malformed search item", "index", i, "error", err)
			continue
		}
		result.Tracks = append(result.Tracks, item.track())
	}
	result.TotalPages = utils.TotalPages(result.Total, pageSize)

	slog.Info("Search done", "keywords", keywords, "total", result.Total, "returned", len(result.Tracks))
	return result, nil
}

func (it searchItem) track() models.Track {
	secs := utils.ParseSeconds(scalarString(it.Duration))
	return models.Track{
		ID:              scalarString(it.ID),
		Name:            orUnknown(scalarString(it.Name)),
		Artist:          orUnknown(scalarString(it.Artist)),
		Album:           orUnknown(scalarString(it.Album)),
		Duration:        utils.FormatDuration(secs),
		DurationSeconds: secs,
		Format:          defaultFormat,
		Sign:            scalarString(it.Sign),
		TimeToken:       scalarString(it.Time),
	}
}

type urlResponse struct {
	Data *struct {
		URL      string `json:"url"`
		SongName string `json:"song_name"`
		Artist   string `json:"artist"`
		Format   string `json:"format"`
	} `json:"data"`
}

// ResolveDownloadURL exchanges a track's sign/time capability for a signed
// download URL. The capability pair is forwarded exactly as search returned
// it and omitted only when empty.
func (c *Client) ResolveDownloadURL(ctx context.Context, sess models.Session, track models.Track) (string, string, error) {
	params := []string{
		"songid=" + url.QueryEscape(track.ID),
		"format=flac",
		"bitrate=2000",
	}
	if track.Sign != "" {
		params = append(params, "sign="+url.QueryEscape(track.Sign))
	}
	if track.TimeToken != "" {
		params = append(params, "time="+url.QueryEscape(track.TimeToken))
	}

	slog.Info("Resolving download url", "id", track.ID, "time", track.TimeToken)

	var resp urlResponse
	if err := c.post(ctx, sess, getURLPath, strings.Join(params, "&"), &resp); err != nil {
		return "", "", &Error{Op: "resolve", Err: fmt.Errorf("%w: %w", ErrResolution, err)}
	}
	if resp.Data == nil || resp.Data.URL == "" {
		return "", "", &Error{Op: "resolve", Err: ErrMissingURLField}
	}

	var filename string
	if resp.Data.SongName != "" && resp.Data.Artist != "" {
		format := resp.Data.Format
		if format == "" {
			format = defaultFormat
		}
		filename = fmt.Sprintf("%s - %s.%s", resp.Data.SongName, resp.Data.Artist, format)
	} else {
		filename = fmt.Sprintf("song_%s.flac", c.now().Format("20060102_150405"))
	}
	return resp.Data.URL, filename, nil
}

func (c *Client) post(ctx context.Context, sess models.Session, path, body string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Cookie", session.CookieHeader(sess))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("decode response (%s): %w", resp.Status, err)
	}
	return nil
}

// decodeNumbers decodes raw into v keeping numbers as json.Number. Empty
// input leaves v untouched.
func decodeNumbers(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	return dec.Decode(v)
}

func parseTotal(raw json.RawMessage) int {
	if len(raw) == 0 {
		return 0
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0
	}
	switch x := v.(type) {
	case float64:
		return int(x)
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(x))
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}

// scalarString renders ids and time tokens that arrive as either JSON
// strings or numbers. Large integers keep their exact digits.
func scalarString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case json.Number:
		return x.String()
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}

func orUnknown(s string) string {
	if s == "" {
		return unknownField
	}
	return s
}
