package arbitration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/Gobusters/ectologger"

	fernerrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/httpclient"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Client calls the oracle over HTTP.
type Client struct {
	http   *httpclient.Client
	url    string
	apiKey string
	logger ectologger.Logger
}

// NewClient creates an oracle client posting to url.
func NewClient(hc *httpclient.Client, url, apiKey string, logger ectologger.Logger) *Client {
	return &Client{
		http:   hc,
		url:    url,
		apiKey: apiKey,
		logger: logger,
	}
}

type response struct {
	EntityID   *string  `json:"entity_id"`
	Confidence *float64 `json:"confidence"`
	Rationale  string   `json:"rationale"`
}

// Arbitrate performs a single round trip. Errors are OracleErrors classified as
// transient (network, timeout, 408, 429, 5xx) or permanent (everything else).
func (c *Client) Arbitrate(ctx context.Context, req Request) (*Decision, error) {
	ctx, span := tracing.StartSpan(ctx, "arbitration.Client.Arbitrate")
	defer span.End()

	headers := map[string]string{}
	if c.apiKey != "" {
		headers["Authorization"] = "Bearer " + c.apiKey
	}

	resp, err := c.http.PostJSON(ctx, c.url, req, headers)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, classifyTransportError(err)
	}

	if resp.StatusCode != http.StatusOK {
		msg := fmt.Sprintf("unexpected status from oracle: %s", http.StatusText(resp.StatusCode))
		if isTransientStatus(resp.StatusCode) {
			return nil, fernerrors.NewTransientOracleError(resp.StatusCode, msg, nil)
		}
		return nil, fernerrors.NewPermanentOracleError(resp.StatusCode, msg, nil)
	}

	var body response
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return nil, fernerrors.NewPermanentOracleError(resp.StatusCode, "malformed response", err)
	}
	if body.Confidence == nil {
		return nil, fernerrors.NewPermanentOracleError(resp.StatusCode, "response lacks confidence", nil)
	}

	decision := &Decision{
		EntityID:   body.EntityID,
		Confidence: *body.Confidence,
		Rationale:  body.Rationale,
	}
	if decision.EntityID != nil && *decision.EntityID == "" {
		decision.EntityID = nil
	}
	if err := Validate(req, decision); err != nil {
		return nil, err
	}

	c.logger.WithContext(ctx).WithFields(map[string]any{
		"candidate_name": req.CandidateName,
		"options":        len(req.Entities),
		"confidence":     decision.Confidence,
		"duration_ms":    resp.Duration.Milliseconds(),
	}).Debug("Oracle decision received")

	return decision, nil
}

func isTransientStatus(code int) bool {
	return code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= 500
}

func classifyTransportError(err error) error {
	if errors.Is(err, context.Canceled) {
		return fernerrors.NewPermanentOracleError(0, "request cancelled", err)
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fernerrors.NewTransientOracleError(0, "request timed out", err)
	}
	return fernerrors.NewTransientOracleError(0, "request failed", err)
}
