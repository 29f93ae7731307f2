package softphone

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"softphone/pkg/logger"
)

var (
	ErrTokenEndpoint = errors.New("softphone: token endpoint failed")
	ErrNoToken       = errors.New("softphone: token missing from response")
)

// maxTokenBody bounds how much of the token response is read.
const maxTokenBody = 64 << 10

// TokenSource obtains a call token for an identity.
type TokenSource interface {
	Fetch(ctx context.Context, id Identity) (string, error)
}

// TokenFetcher requests call tokens from a fixed HTTP endpoint:
//
//	GET <endpoint>?identity=<identity>  ->  {"token": "..."}
//
// Every call issues a fresh request. There is no retry and no cache.
type TokenFetcher struct {
	endpoint *url.URL
	client   *http.Client
}

// NewTokenFetcher validates endpoint and returns a fetcher. A nil client uses
// http.DefaultClient.
func NewTokenFetcher(endpoint string, client *http.Client) (*TokenFetcher, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("softphone: invalid token endpoint: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("softphone: token endpoint must be http(s), got %q", endpoint)
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &TokenFetcher{endpoint: u, client: client}, nil
}

type tokenResponse struct {
	Token string `json:"token"`
}

// Fetch returns the token for id. Failures are logged through the context
// logger and returned; the token itself is never logged.
func (f *TokenFetcher) Fetch(ctx context.Context, id Identity) (string, error) {
	log := logger.From(ctx).With("identity", id.String())

	token, err := f.fetch(ctx, id)
	if err != nil {
		log.Warn("call token fetch failed", "err", err)
		return "", err
	}
	return token, nil
}

func (f *TokenFetcher) fetch(ctx context.Context, id Identity) (string, error) {
	u := *f.endpoint
	q := u.Query()
	q.Set("identity", string(id))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTokenEndpoint, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTokenEndpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxTokenBody))
		return "", fmt.Errorf("%w: status %d", ErrTokenEndpoint, resp.StatusCode)
	}

	var body tokenResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxTokenBody)).Decode(&body); err != nil {
		return "", fmt.Errorf("%w: decode: %v", ErrTokenEndpoint, err)
	}
	if body.Token == "" {
		return "", ErrNoToken
	}
	return body.Token, nil
}
