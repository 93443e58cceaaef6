package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/codeready-toolchain/gtmcore/pkg/state"
)

// httpMaxAttempts is the §5 retry cap for provider calls: up to three
// attempts total (the first try plus two retries).
const httpMaxAttempts = 3

// ProviderError wraps a failed upstream call. The scheduler handles it like
// any other agent error: the agent is recorded as agent_failed and the sweep
// moves on to the next agent.
type ProviderError struct {
	Agent string
	Err   error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider: agent %s: %v", e.Agent, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// HTTPAgent calls a real upstream HTTP endpoint that implements the
// `state → AgentOutput` contract, retrying transient failures with
// exponential backoff (§5).
type HTTPAgent struct {
	name       string
	endpoint   string
	httpClient *http.Client
}

// NewHTTPAgent returns an HTTPAgent posting the current state to endpoint
// and expecting a single AgentOutput JSON document back.
func NewHTTPAgent(name, endpoint string, httpClient *http.Client) *HTTPAgent {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPAgent{name: name, endpoint: endpoint, httpClient: httpClient}
}

func (a *HTTPAgent) Name() string { return a.name }

func (a *HTTPAgent) Run(ctx context.Context, s *state.CanonicalState) (*state.AgentOutput, error) {
	body, err := s.ToJSON()
	if err != nil {
		return nil, &ProviderError{Agent: a.name, Err: fmt.Errorf("marshal request state: %w", err)}
	}

	var out *state.AgentOutput
	bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), httpMaxAttempts-1)
	operation := func() error {
		resp, doErr := a.doRequest(ctx, body)
		if doErr != nil {
			return doErr
		}
		out = resp
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		return nil, &ProviderError{Agent: a.name, Err: err}
	}
	return out, nil
}

func (a *HTTPAgent) doRequest(ctx context.Context, body []byte) (*state.AgentOutput, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		// Network errors are retryable.
		return nil, fmt.Errorf("call %s: %w", a.endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%s returned %d", a.endpoint, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		// Client errors (bad request, auth) will not succeed on retry.
		return nil, backoff.Permanent(fmt.Errorf("%s returned %d", a.endpoint, resp.StatusCode))
	}

	var out state.AgentOutput
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("decode response: %w", err))
	}
	return &out, nil
}
