package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/JonMunkholm/propertysales/internal/logging"
	"golang.org/x/time/rate"
)

var (
	// ErrNotZip is returned when a downloaded body is not a zip archive.
	ErrNotZip = errors.New("response is not a zip archive")
	// ErrTooLarge is returned when a body exceeds the client's size limit.
	ErrTooLarge = errors.New("response exceeds size limit")
)

// Defaults for zero Client fields.
const (
	DefaultAttempts = 3
	DefaultDelay    = 5 * time.Second
	DefaultTimeout  = 2 * time.Minute
	DefaultMaxSize  = 1 << 30
)

var (
	zipMagic      = []byte("PK\x03\x04")
	emptyZipMagic = []byte("PK\x05\x06")
)

// Client downloads archives over HTTP.
type Client struct {
	BaseURL  string
	HTTP     *http.Client
	Attempts int
	Delay    time.Duration
	Limiter  *rate.Limiter
	Logger   *slog.Logger

	// MaxSize caps a response body in bytes (default: DefaultMaxSize).
	MaxSize int64
}

// NewClient returns a client allowing rps requests per second.
func NewClient(baseURL string, attempts int, delay, timeout time.Duration, rps float64, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	return &Client{
		BaseURL:  baseURL,
		HTTP:     &http.Client{Timeout: timeout},
		Attempts: attempts,
		Delay:    delay,
		Limiter:  rate.NewLimiter(limit, 1),
		Logger:   logger,
	}
}

// retryableError marks a failure worth another attempt.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

func isRetryable(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}

// Fetch GETs url and returns the body. Network errors, 429 and 5xx
// responses are retried up to Attempts times with Delay between tries;
// other 4xx responses fail immediately.
func (c *Client) Fetch(ctx context.Context, url string) ([]byte, error) {
	attempts := c.Attempts
	if attempts <= 0 {
		attempts = DefaultAttempts
	}
	delay := c.Delay
	if delay < 0 {
		delay = 0
	}
	logger := logging.OrDefault(c.Logger)

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		body, err := c.get(ctx, url)
		if err == nil {
			return body, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err

		logger.Warn("download attempt failed",
			"url", url,
			"attempt", attempt,
			"of", attempts,
			"error", err,
		)
		if !isRetryable(err) {
			break
		}
	}
	return nil, lastErr
}

func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, &retryableError{err: fmt.Errorf("request failed: %w", err)}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &retryableError{err: fmt.Errorf("rate limited (429)")}
	case resp.StatusCode >= 500:
		return nil, &retryableError{err: fmt.Errorf("server error (%d)", resp.StatusCode)}
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("unexpected status (%d)", resp.StatusCode)
	}

	limit := c.MaxSize
	if limit <= 0 {
		limit = DefaultMaxSize
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, &retryableError{err: fmt.Errorf("read body: %w", err)}
	}
	if int64(len(body)) > limit {
		return nil, fmt.Errorf("%w (%d bytes)", ErrTooLarge, limit)
	}
	return body, nil
}

// Failure is a target that could not be downloaded.
type Failure struct {
	Name  string `json:"name"`
	Error string `json:"error"`
}

// Report summarises a Download.
type Report struct {
	Downloaded []string  `json:"downloaded"`
	Skipped    []string  `json:"skipped"`
	Failed     []Failure `json:"failed"`
}

// Download fetches every target into dir. A failed target is recorded and
// the rest continue. With skipExisting, targets already on disk are not
// fetched again. Bodies that are not zip archives are discarded.
func (c *Client) Download(ctx context.Context, targets []Target, dir string, skipExisting bool) Report {
	logger := logging.OrDefault(c.Logger)
	var rep Report

	if err := os.MkdirAll(dir, 0o755); err != nil {
		for _, t := range targets {
			rep.Failed = append(rep.Failed, Failure{Name: t.Name, Error: err.Error()})
		}
		return rep
	}

	base := strings.TrimSuffix(c.BaseURL, "/") + "/"
	for _, t := range targets {
		if err := ctx.Err(); err != nil {
			rep.Failed = append(rep.Failed, Failure{Name: t.Name, Error: err.Error()})
			continue
		}

		dest := filepath.Join(dir, t.Name)
		if skipExisting {
			if _, err := os.Stat(dest); err == nil {
				rep.Skipped = append(rep.Skipped, t.Name)
				continue
			}
		}

		url := base + t.Path()
		body, err := c.Fetch(ctx, url)
		if err == nil && !isZip(body) {
			err = ErrNotZip
		}
		if err == nil {
			err = writeAtomic(dest, body)
		}
		if err != nil {
			logger.Error("download failed", "url", url, "error", err)
			rep.Failed = append(rep.Failed, Failure{Name: t.Name, Error: err.Error()})
			continue
		}

		logger.Info("downloaded archive", "url", url, "bytes", len(body))
		rep.Downloaded = append(rep.Downloaded, t.Name)
	}
	return rep
}

func isZip(b []byte) bool {
	return bytes.HasPrefix(b, zipMagic) || bytes.HasPrefix(b, emptyZipMagic)
}

func writeAtomic(dest string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".*.part")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dest)
}
