package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
)

const (
	chunkSize = 8 * 1024
	dirPerm   = 0o755
)

var (
	ErrHTTPStatus = errors.New("unexpected http status")
	ErrIO         = errors.New("file write failed")
)

type Error struct {
	Name string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("download %s: %v", e.Name, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// OnStart runs once the response headers are accepted, before the first
// chunk is read. OnChunk runs synchronously after each chunk is on disk.
// total is the Content-Length, or 0 when the server did not send one.
type (
	OnStart func(total int64)
	OnChunk func(n int, total int64)
)

type Fetcher struct {
	client    *http.Client
	userAgent string
}

func NewFetcher(client *http.Client, userAgent string) *Fetcher {
	return &Fetcher{client: client, userAgent: userAgent}
}

// Fetch streams url into dir under a collision-free variant of filename and
// returns the path written. A failed transfer leaves no partial file.
func (f *Fetcher) Fetch(ctx context.Context, url, dir, filename string, onStart OnStart, onChunk OnChunk) (string, error) {
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return "", &Error{Name: filename, Err: fmt.Errorf("%w: %w", ErrIO, err)}
	}

	resp, err := f.doRequest(ctx, url)
	if err != nil {
		return "", &Error{Name: filename, Err: err}
	}
	defer resp.Body.Close()

	total := resp.ContentLength
	if total < 0 {
		total = 0
	}

	path, file, err := createUnique(dir, filename)
	if err != nil {
		return "", &Error{Name: filename, Err: fmt.Errorf("%w: %w", ErrIO, err)}
	}
	if onStart != nil {
		onStart(total)
	}

	if err := copyChunks(resp.Body, file, total, onChunk); err != nil {
		file.Close()
		os.Remove(path)
		return "", &Error{Name: filename, Err: err}
	}
	if err := file.Close(); err != nil {
		os.Remove(path)
		return "", &Error{Name: filename, Err: fmt.Errorf("%w: %w", ErrIO, err)}
	}

	slog.Debug("Saved file", "path", path, "bytes", total)
	return path, nil
}

func (f *Fetcher) doRequest(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s", ErrHTTPStatus, resp.Status)
	}
	return resp, nil
}

// createUnique opens the first free name exclusively so two writers can
// never share a file.
func createUnique(dir, filename string) (string, *os.File, error) {
	for {
		path := UniquePath(dir, filename)
		file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return path, file, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return "", nil, err
		}
		filename = filepath.Base(path)
	}
}

func copyChunks(src io.Reader, dst io.Writer, total int64, onChunk OnChunk) error {
	buf := make([]byte, chunkSize)
	var written int64
	for {
		n, err := io.ReadFull(src, buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return fmt.Errorf("%w: %w", ErrIO, werr)
			}
			written += int64(n)
			if onChunk != nil {
				onChunk(n, total)
			}
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			// ReadFull reports a short final chunk and a truncated body the
			// same way; the declared length tells them apart.
			if total > 0 && written < total {
				return fmt.Errorf("short body: got %d of %d bytes", written, total)
			}
			return nil
		}
		if err != nil {
			return err
		}
	}
}
