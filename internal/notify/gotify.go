package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

const (
	DefaultGotifyAttempts = 10
	DefaultGotifyBackoff  = 10 * time.Second
)

// Gotify posts messages to a Gotify server, retrying any failed attempt
// after a fixed delay.
type Gotify struct {
	url    string
	client *retryablehttp.Client
}

// NewGotify creates a Gotify notifier. url includes the application token.
func NewGotify(url string, attempts int, backoff time.Duration) *Gotify {
	if attempts <= 0 {
		attempts = DefaultGotifyAttempts
	}

	client := retryablehttp.NewClient()
	client.RetryMax = attempts - 1
	client.RetryWaitMin = backoff
	client.RetryWaitMax = backoff
	client.Backoff = func(min, max time.Duration, attempt int, resp *http.Response) time.Duration {
		return backoff
	}
	client.CheckRetry = retryUnlessSuccess
	client.Logger = slog.Default()

	return &Gotify{url: url, client: client}
}

func (g *Gotify) Name() string {
	return "gotify"
}

func (g *Gotify) Notify(ctx context.Context, msg Message) error {
	text := msg.Text
	if text == "" {
		text = "Backup failed"
		if msg.Success {
			text = "Backup successful"
		}
	}

	body, err := json.Marshal(map[string]string{
		"title":   "Backup result",
		"message": text,
	})
	if err != nil {
		return err
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build gotify request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("Error sending request to gotify after %d attempts: %w", g.client.RetryMax+1, err)
	}
	resp.Body.Close()
	return nil
}

// retryUnlessSuccess retries every transport error and non-2xx response
// until ctx is done.
func retryUnlessSuccess(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		return true, nil
	}
	return resp.StatusCode < 200 || resp.StatusCode > 299, nil
}
