package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/pario-ai/switchboard/pkg/brokererr"
)

// upstreamResult holds the response of a single upstream call.
type upstreamResult struct {
	statusCode int
	body       []byte
}

// postJSON sends body as JSON to baseURL+path and reads the whole response.
func postJSON(ctx context.Context, client *http.Client, baseURL, path string, headers map[string]string, body any) (*upstreamResult, error) {
	target, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid backend URL: %w", err)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String()+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return &upstreamResult{statusCode: resp.StatusCode, body: respBody}, nil
}

// statusError describes a non-2xx upstream response.
func statusError(res *upstreamResult) error {
	msg := strings.TrimSpace(string(res.body))
	if len(msg) > 512 {
		msg = msg[:512]
	}
	return fmt.Errorf("status %d: %s", res.statusCode, msg)
}

func execFailed(backend, model string, err error) *brokererr.Error {
	return &brokererr.Error{
		Kind:    brokererr.BackendExecutionFailed,
		Backend: backend,
		Model:   model,
		Err:     err,
	}
}
