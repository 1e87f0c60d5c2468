package http

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dPersist/rpc/common"
	"github.com/ValentinKolb/dPersist/rpc/transport"
)

func NewHttpClientTransport() transport.IRPCClientTransport {
	return &httpClientTransport{}
}

type httpClientTransport struct {
	serverURLs []*url.URL
	client     *http.Client
	counter    atomic.Uint32
	retryCount int
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCClientTransport)
// --------------------------------------------------------------------------

func (t *httpClientTransport) Connect(config common.ClientConfig) error {
	if len(config.Endpoints) == 0 {
		return fmt.Errorf("no endpoints configured")
	}

	// Parse each server URL
	parsedURLs := make([]*url.URL, len(config.Endpoints))
	for i, server := range config.Endpoints {
		parsedURL, err := url.Parse(server)
		if err != nil {
			return err
		}
		parsedURLs[i] = parsedURL
	}

	connections := config.ConnectionsPerEndpoint
	if connections < 1 {
		connections = 10
	}

	t.client = &http.Client{
		Timeout: time.Duration(config.TimeoutSecond) * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        connections * len(parsedURLs),
			MaxIdleConnsPerHost: connections,
			IdleConnTimeout:     90 * time.Second,
		},
	}
	t.serverURLs = parsedURLs
	t.counter.Store(0)
	t.retryCount = max(config.RetryCount, 1)

	return nil
}

func (t *httpClientTransport) Send(ctx context.Context, database string, req []byte) ([]byte, error) {
	// Check if the transport is initialized
	if t.client == nil {
		return nil, fmt.Errorf("http transport not initialized")
	}

	var lastErr error
	for i := 0; i < t.retryCount; i++ {
		// Select the next server via round-robin
		idx := t.counter.Add(1) % uint32(len(t.serverURLs))
		resp, err := t.send(ctx, t.serverURLs[idx], database, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		Logger.Debugf("request to %s failed (attempt %d/%d): %v", t.serverURLs[idx], i+1, t.retryCount, err)
	}
	return nil, lastErr
}

func (t *httpClientTransport) Close() error {
	if t.client != nil {
		t.client.CloseIdleConnections()
	}
	t.client = nil
	t.serverURLs = nil
	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (t *httpClientTransport) send(ctx context.Context, server *url.URL, database string, req []byte) ([]byte, error) {
	requestURL := server.JoinPath("db", database).String()

	httpRequest, err := http.NewRequestWithContext(ctx, http.MethodPost, requestURL, bytes.NewReader(req))
	if err != nil {
		return nil, err
	}
	httpRequest.Header.Set("Content-Type", "application/octet-stream")

	httpResponse, err := t.client.Do(httpRequest)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := httpResponse.Body.Close(); err != nil {
			Logger.Errorf("failed to close response body: %v", err)
		}
	}()

	if httpResponse.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(httpResponse.Body, 512))
		return nil, fmt.Errorf("http error: %s: %s", httpResponse.Status, bytes.TrimSpace(body))
	}
	return io.ReadAll(httpResponse.Body)
}
