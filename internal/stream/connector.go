package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

// DefaultURL is the user stream endpoint.
const DefaultURL = "https://userstream.twitter.com/1.1/user.json"

const userAgent = "streamdump/0.1"

// Common errors. StatusError matches these with errors.Is.
var (
	ErrUnauthorized = errors.New("stream: unauthorized")
	ErrRateLimited  = errors.New("stream: rate limited")
)

// StatusError is returned when the endpoint answers with anything but 200.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("stream: HTTP error: %s", e.Status)
}

// Is classifies the status for diagnostics. No caller retries on it.
func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.Code == http.StatusUnauthorized
	case ErrRateLimited:
		return e.Code == 420 || e.Code == http.StatusTooManyRequests
	}
	return false
}

// Signer produces an Authorization header value for a request.
type Signer interface {
	Sign(method, rawURL string) (string, error)
}

// Stream is a live response body. The caller must Close it.
type Stream struct {
	body   io.ReadCloser
	Status int
}

func (s *Stream) Read(p []byte) (int, error) { return s.body.Read(p) }

// Close releases the underlying connection.
func (s *Stream) Close() error { return s.body.Close() }

// Connector opens signed GET requests against a streaming endpoint.
type Connector struct {
	url    string
	signer Signer
	client *http.Client
	logger *slog.Logger
}

// NewConnector creates a connector. A nil client uses a client without a
// timeout, since the response body is read for as long as the server streams.
func NewConnector(url string, signer Signer, client *http.Client, logger *slog.Logger) *Connector {
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Connector{
		url:    url,
		signer: signer,
		client: client,
		logger: logger,
	}
}

// Connect performs exactly one signed GET. On 200 the unconsumed body is
// returned; any other status closes the body and returns a *StatusError.
func (c *Connector) Connect(ctx context.Context) (*Stream, error) {
	authHeader, err := c.signer.Sign(http.MethodGet, c.url)
	if err != nil {
		return nil, fmt.Errorf("sign request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", authHeader)
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", c.url, err)
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		c.logger.Warn("stream endpoint rejected connection",
			"url", c.url,
			"status", resp.StatusCode)
		return nil, &StatusError{Code: resp.StatusCode, Status: resp.Status}
	}

	c.logger.Debug("stream connected", "url", c.url, "proto", resp.Proto)

	return &Stream{
		body:   resp.Body,
		Status: resp.StatusCode,
	}, nil
}
