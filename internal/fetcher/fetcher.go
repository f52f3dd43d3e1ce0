// Package fetcher retrieves raw stream catalogs from upstream providers
// (Xtream-Codes player_api or M3U playlists) and normalizes them into
// staging records.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/kptv/streamsync/internal/config"
	"github.com/kptv/streamsync/internal/models"
	"github.com/sirupsen/logrus"
)

// FetchError is a provider fetch failure. Retryable errors (transport
// failures, 408/423/429/5xx) are retried with backoff before one of these
// surfaces as fatal for the provider.
type FetchError struct {
	Provider string
	Op       string
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %s: %v", e.Provider, e.Op, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Fetcher retrieves and normalizes provider catalogs.
type Fetcher struct {
	client  *http.Client
	ua      string
	retries int
	backoff time.Duration
	maxWait time.Duration
	log     logrus.FieldLogger
}

// New creates a Fetcher from config. Retry and backoff settings come from
// cfg (defaults: 3 retries, 2s initial backoff doubling up to 60s).
func New(cfg *config.Config, log logrus.FieldLogger) *Fetcher {
	return &Fetcher{
		client:  &http.Client{Timeout: cfg.Timeout},
		ua:      cfg.UserAgent,
		retries: cfg.FetchRetries,
		backoff: cfg.FetchBackoff,
		maxWait: cfg.MaxBackoff,
		log:     log,
	}
}

// Fetch retrieves the full catalog for one provider and normalizes it into
// staging records scoped to the provider's user. A failure here never
// aborts sync for other providers; the engine records it and moves on.
func (f *Fetcher) Fetch(ctx context.Context, p *models.Provider) ([]models.StagingRecord, error) {
	switch p.Type {
	case models.ProviderTypeXtream:
		return f.fetchXtream(ctx, p)
	case models.ProviderTypeM3U:
		return f.fetchM3U(ctx, p)
	default:
		return nil, &FetchError{Provider: p.Name, Op: "dispatch",
			Err: fmt.Errorf("unknown provider type %d", p.Type)}
	}
}

// retryableStatus returns true for 429, 423, 408 and 5xx where a retry
// after backoff may succeed.
func retryableStatus(code int) bool {
	if code == 429 || code == 423 || code == 408 {
		return true
	}
	return code >= 500 && code < 600
}

// parseRetryAfter parses Retry-After (seconds or HTTP-date); returns 0 if
// missing or invalid.
func (f *Fetcher) parseRetryAfter(resp *http.Response) time.Duration {
	s := resp.Header.Get("Retry-After")
	if s == "" {
		return 0
	}
	if sec, err := strconv.Atoi(s); err == nil && sec > 0 {
		d := time.Duration(sec) * time.Second
		if d > f.maxWait {
			return f.maxWait
		}
		return d
	}
	if t, err := http.ParseTime(s); err == nil {
		d := time.Until(t)
		if d < 0 {
			return f.backoff
		}
		if d > f.maxWait {
			return f.maxWait
		}
		return d
	}
	return 0
}

// get performs a GET with retries on transport errors and retryable
// statuses. Respects Retry-After; uses exponential backoff otherwise.
func (f *Fetcher) get(ctx context.Context, url string) ([]byte, error) {
	var lastErr error
	backoff := f.backoff
	for attempt := 0; attempt <= f.retries; attempt++ {
		if attempt > 0 {
			f.log.WithFields(logrus.Fields{
				"attempt": attempt,
				"wait":    backoff.String(),
			}).Debug("Retrying fetch")
		}
		body, wait, err := f.getOnce(ctx, url)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, lastErr
		}
		if !errors.Is(err, errRetryable) || attempt == f.retries {
			return nil, lastErr
		}
		if wait == 0 {
			wait = backoff
			if backoff < f.maxWait {
				backoff *= 2
			}
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil, lastErr
}

// errRetryable marks failures worth another attempt.
var errRetryable = errors.New("retryable")

// getOnce performs a single GET. wait is a server-requested delay
// (Retry-After) to honor before the next attempt, 0 if none.
func (f *Fetcher) getOnce(ctx context.Context, url string) (body []byte, wait time.Duration, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, err
	}
	if f.ua != "" {
		req.Header.Set("User-Agent", f.ua)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, 0, ctx.Err()
		}
		return nil, 0, fmt.Errorf("%w: %v", errRetryable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		if retryableStatus(resp.StatusCode) {
			return nil, f.parseRetryAfter(resp), fmt.Errorf("%w: HTTP %d", errRetryable, resp.StatusCode)
		}
		return nil, 0, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	body, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: read body: %v", errRetryable, err)
	}
	return body, 0, nil
}
