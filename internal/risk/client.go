// Package risk implements the risk-gated admission controller: an
// HTTP scoring-engine client with bounded exponential backoff, threshold
// decision mapping, and the manual-review queue.
package risk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/itechmeat/kembridge/internal/ratelimit"
)

// riskRateLimitName identifies the risk-client bucket in a shared
// ratelimit.Limiter.
const riskRateLimitName = "risk"

// TxDescriptor is the transaction descriptor submitted for scoring.
type TxDescriptor struct {
	TransactionID string  `json:"transaction_id"`
	UserID        string  `json:"user_id"`
	Amount        string  `json:"amount"`
	SourceChain   string  `json:"source_chain"`
	DestChain     string  `json:"dest_chain"`
}

// Response is the scoring engine's analysis result.
type Response struct {
	RiskScore float64  `json:"risk_score"`
	RiskLevel string   `json:"risk_level"`
	Factors   []string `json:"factors"`
}

// Error kinds returned by Analyze.
var (
	ErrInvalidResponse     = fmt.Errorf("risk: score out of [0,1] range")
	ErrRateLimitExceeded   = fmt.Errorf("risk: rate limit exceeded")
	ErrAuthenticationFailed = fmt.Errorf("risk: authentication failed")
	ErrAnalysisFailed      = fmt.Errorf("risk: analysis failed")
)

// Client submits transaction descriptors to an external scoring engine,
// retrying transient failures with exponential backoff.
type Client struct {
	HTTPClient  *http.Client
	BaseURL     string
	APIKey      string
	MaxRetries  int
	BaseDelayMs int

	// Limiter, when set, bounds outbound call rate to the scoring engine
	// under the "risk" bucket name. Nil means unlimited.
	Limiter *ratelimit.Limiter
}

// NewClient constructs a risk-scoring client with the given timeout,
// retry count, and base backoff delay.
func NewClient(baseURL, apiKey string, timeout time.Duration, maxRetries, baseDelayMs int) *Client {
	return &Client{
		HTTPClient:  &http.Client{Timeout: timeout},
		BaseURL:     baseURL,
		APIKey:      apiKey,
		MaxRetries:  maxRetries,
		BaseDelayMs: baseDelayMs,
	}
}

// Analyze posts the descriptor to /api/risk/analyze, retrying up to
// MaxRetries attempts with backoff base_delay_ms*2^(attempt-1} between
// tries. Retries on network errors, 5xx, and 408; never on other 4xx.
func (c *Client) Analyze(ctx context.Context, desc TxDescriptor) (*Response, error) {
	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx, riskRateLimitName); err != nil {
			return nil, err
		}
	}

	requestID := uuid.New().String()

	var resp *Response
	attempt := 0

	operation := func() error {
		attempt++
		r, retryable, err := c.sendRiskRequest(ctx, desc, requestID, attempt)
		if err != nil {
			if retryable {
				return err
			}
			return backoff.Permanent(err)
		}
		resp = r
		return nil
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = time.Duration(c.BaseDelayMs) * time.Millisecond
	exp.Multiplier = 2
	exp.MaxElapsedTime = 0

	bo := backoff.WithMaxRetries(exp, uint64(c.MaxRetries-1))

	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		return nil, err
	}

	return resp, nil
}

// sendRiskRequest performs a single HTTP attempt. The bool return reports
// whether the error (if any) is retryable.
func (c *Client) sendRiskRequest(ctx context.Context, desc TxDescriptor, requestID string, attempt int) (*Response, bool, error) {
	body, err := json.Marshal(desc)
	if err != nil {
		return nil, false, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/risk/analyze", bytes.NewReader(body))
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("X-API-Key", c.APIKey)
	}
	req.Header.Set("X-Request-ID", requestID)
	req.Header.Set("X-Retry-Attempt", fmt.Sprintf("%d", attempt))

	httpResp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, true, err // network error: retryable
	}
	defer httpResp.Body.Close()

	respBody, _ := io.ReadAll(httpResp.Body)

	switch {
	case httpResp.StatusCode == http.StatusOK:
		var parsed Response
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			return nil, false, err
		}
		if parsed.RiskScore < 0 || parsed.RiskScore > 1 {
			return nil, false, ErrInvalidResponse
		}
		return &parsed, false, nil

	case httpResp.StatusCode == http.StatusTooManyRequests:
		return nil, false, ErrRateLimitExceeded

	case httpResp.StatusCode == http.StatusUnauthorized || httpResp.StatusCode == http.StatusForbidden:
		return nil, false, ErrAuthenticationFailed

	case httpResp.StatusCode == http.StatusRequestTimeout || httpResp.StatusCode >= 500:
		return nil, true, fmt.Errorf("%w: status %d: %s", ErrAnalysisFailed, httpResp.StatusCode, string(respBody))

	default:
		return nil, false, fmt.Errorf("%w: status %d: %s", ErrAnalysisFailed, httpResp.StatusCode, string(respBody))
	}
}
