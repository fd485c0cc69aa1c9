package provider

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/sentrytsa/tsamediator/pkg/asn1tsp"
)

// maxResponseBytes bounds how much of a TSA's response body the adapter
// will read, to stay safe against a misbehaving or malicious provider.
const maxResponseBytes = 1 << 20 // 1 MiB

// HTTPConfig configures an HTTPAdapter.
type HTTPConfig struct {
	ID       string // provider ID, e.g. "digicert"
	URL      string
	Username string // optional HTTP basic auth
	Password string
	Timeout  time.Duration // per-attempt timeout; default 5s per §5
}

// HTTPAdapter is the default Adapter implementation: it encodes a
// TimeStampReq, POSTs it as application/timestamp-query, and decodes the
// application/timestamp-reply body.
type HTTPAdapter struct {
	id       string
	url      string
	username string
	password string
	timeout  time.Duration
	client   *http.Client
	logger   *slog.Logger
}

// NewHTTPAdapter constructs an HTTPAdapter. client may be nil, in which case
// a default *http.Client is used; tests typically supply one pointed at an
// httptest.Server.
func NewHTTPAdapter(cfg HTTPConfig, client *http.Client, logger *slog.Logger) *HTTPAdapter {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPAdapter{
		id:       cfg.ID,
		url:      cfg.URL,
		username: cfg.Username,
		password: cfg.Password,
		timeout:  timeout,
		client:   client,
		logger:   logger,
	}
}

// ID implements Adapter.
func (a *HTTPAdapter) ID() string { return a.id }

// SendRequest implements Adapter.
func (a *HTTPAdapter) SendRequest(ctx context.Context, req asn1tsp.Request) Outcome {
	start := time.Now()

	attemptCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	der, err := asn1tsp.BuildRequest(req)
	if err != nil {
		return Outcome{Success: false, Error: ErrBadAlg, Latency: time.Since(start)}
	}

	httpReq, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, a.url, bytes.NewReader(der))
	if err != nil {
		return Outcome{Success: false, Error: ErrConnectionFailure, Latency: time.Since(start)}
	}
	httpReq.Header.Set("Content-Type", "application/timestamp-query")
	httpReq.Header.Set("Accept", "application/timestamp-reply")
	if a.username != "" {
		httpReq.SetBasicAuth(a.username, a.password)
	}

	resp, err := a.client.Do(httpReq)
	latency := time.Since(start)
	if err != nil {
		// Both the per-attempt deadline and cancellation of ctx by the
		// caller are reported as a timeout.
		if errors.Is(err, context.DeadlineExceeded) || attemptCtx.Err() != nil {
			return Outcome{Success: false, Error: ErrTimeout, Latency: latency}
		}
		if a.logger != nil {
			a.logger.Debug("provider transport failure", "provider", a.id, "error", err)
		}
		return Outcome{Success: false, Error: ErrConnectionFailure, Latency: latency}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return Outcome{Success: false, Error: ErrHTTP5xx, Latency: time.Since(start)}
	}
	if resp.StatusCode >= 400 {
		return Outcome{Success: false, Error: ErrHTTP4xx, Latency: time.Since(start)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Outcome{Success: false, Error: ErrConnectionFailure, Latency: time.Since(start)}
	}

	parsed, err := asn1tsp.ParseResponse(body)
	latency = time.Since(start)
	if err != nil {
		if a.logger != nil {
			a.logger.Debug("provider response parse failure", "provider", a.id, "error", err)
		}
		return Outcome{Success: false, Error: ErrSystemFailure, Latency: latency}
	}

	if !parsed.Granted {
		return Outcome{Success: false, Error: classifyFailure(parsed), Response: parsed, Latency: latency}
	}

	return Outcome{Success: true, Response: parsed, Latency: latency}
}

// classifyFailure maps a non-granted PKIStatusInfo to the adapter's fixed
// error vocabulary, per §4.1.
func classifyFailure(resp *asn1tsp.Response) string {
	switch {
	case resp.FailInfo&(1<<asn1tsp.PKIFailTimeNotAvailable) != 0:
		return ErrTimeNotAvailable
	case resp.FailInfo&(1<<asn1tsp.PKIFailSystemFailure) != 0:
		return ErrSystemFailure
	case resp.FailInfo&(1<<asn1tsp.PKIFailBadAlg) != 0:
		return ErrBadAlg
	case resp.FailInfo&(1<<asn1tsp.PKIFailUnacceptedPolicy) != 0:
		return ErrPolicyRejected
	default:
		return ErrSystemFailure
	}
}

// NewNonce generates a cryptographically random nonce in [0, 2^256), per the
// data model's nonce range.
func NewNonce() (*big.Int, error) {
	return asn1tsp.RandomNonce()
}
