package lms

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Gate probes the server root until it answers with a success status.
type Gate struct {
	URL    string
	HTTP   *http.Client
	Sleep  Sleeper
	Logger *slog.Logger
}

// NewGate returns a Gate probing url with the default sleeper and logger.
func NewGate(url string, httpClient *http.Client) *Gate {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Gate{
		URL:    url,
		HTTP:   httpClient,
		Sleep:  Sleep,
		Logger: slog.Default(),
	}
}

// WaitUntilReady issues up to attempts probes, sleeping interval between
// failures. It returns nil on the first 2xx response and an error wrapping
// ErrNotReady after exactly attempts failed probes.
func (g *Gate) WaitUntilReady(ctx context.Context, attempts int, interval time.Duration) error {
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		status, err := g.probe(ctx)
		if err == nil && status >= 200 && status < 300 {
			g.Logger.Debug("server is ready", "attempt", attempt, "status", status)
			return nil
		}

		if err != nil {
			lastErr = err
			g.Logger.Warn("failed to connect to server, waiting", "attempt", attempt, "error", err)
		} else {
			lastErr = fmt.Errorf("status %d", status)
			g.Logger.Warn("server responded with non-success status, waiting", "attempt", attempt, "status", status)
		}

		if attempt == attempts {
			break
		}
		if err := g.Sleep(ctx, interval); err != nil {
			return err
		}
	}
	return fmt.Errorf("%w after %d attempts: %v", ErrNotReady, attempts, lastErr)
}

func (g *Gate) probe(ctx context.Context) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.URL, nil)
	if err != nil {
		return 0, err
	}
	resp, err := g.HTTP.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}
