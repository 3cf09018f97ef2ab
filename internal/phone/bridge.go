// Package phone talks to the external phone-identity provider. The provider
// sends verification codes and, once the user enters a code, hands the client
// an assertion token proving control of the number. The bridge starts
// challenges and confirms assertions; it never trusts a claimed phone number
// without provider confirmation.
package phone

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/sony/gobreaker"
)

// Bridge-boundary errors. Provider/network failures never escape untranslated.
var (
	ErrProviderUnavailable = errors.New("phone identity provider unavailable")
	ErrAssertionInvalid    = errors.New("assertion token invalid")
	ErrAssertionExpired    = errors.New("assertion token expired")
)

// Bridge defines the provider operations used by the session flows
type Bridge interface {
	// StartChallenge asks the provider to send a verification code and
	// returns the provider-issued challenge id.
	StartChallenge(ctx context.Context, phoneNumber string) (string, error)
	// ConfirmAssertion validates an assertion token with the provider and
	// checks the verified number against the claimed one. Returns the
	// verified phone number.
	ConfirmAssertion(ctx context.Context, assertionToken, claimedPhoneNumber string) (string, error)
}

// HTTPBridge is a Bridge over the provider's HTTP API. Calls carry a bounded
// timeout and run through a circuit breaker; only transport-level failures
// trip the breaker, rejected assertions do not.
type HTTPBridge struct {
	baseURL string
	apiKey  string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

// NewHTTPBridge creates a bridge for the provider at baseURL.
func NewHTTPBridge(baseURL, apiKey string, timeout time.Duration) *HTTPBridge {
	b := &HTTPBridge{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
	b.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "phone-identity-provider",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			// Rejected assertions are provider answers, not provider failures
			return !errors.Is(err, ErrProviderUnavailable)
		},
	})
	return b
}

type startChallengeRequest struct {
	PhoneNumber string `json:"phone_number"`
}

type startChallengeResponse struct {
	ChallengeID string `json:"challenge_id"`
}

type confirmAssertionRequest struct {
	AssertionToken string `json:"assertion_token"`
}

type confirmAssertionResponse struct {
	PhoneNumber string `json:"phone_number"`
}

type providerErrorResponse struct {
	Error string `json:"error"`
}

// StartChallenge implements Bridge. Not retried here: a duplicate dispatch
// would cost provider SMS quota; callers retry subject to the cooldown.
func (b *HTTPBridge) StartChallenge(ctx context.Context, phoneNumber string) (string, error) {
	var res startChallengeResponse
	err := b.call(ctx, "/v1/challenges", startChallengeRequest{PhoneNumber: phoneNumber}, &res)
	if err != nil {
		return "", err
	}
	if res.ChallengeID == "" {
		return "", fmt.Errorf("%w: provider returned empty challenge id", ErrProviderUnavailable)
	}
	return res.ChallengeID, nil
}

// ConfirmAssertion implements Bridge. The confirm call is a read on the
// provider side, so transient failures are retried a couple of times.
func (b *HTTPBridge) ConfirmAssertion(ctx context.Context, assertionToken, claimedPhoneNumber string) (string, error) {
	var res confirmAssertionResponse
	backoff := retry.WithMaxRetries(2, retry.NewConstant(500*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		callErr := b.call(ctx, "/v1/assertions/verify", confirmAssertionRequest{AssertionToken: assertionToken}, &res)
		if errors.Is(callErr, ErrProviderUnavailable) {
			return retry.RetryableError(callErr)
		}
		return callErr
	})
	if err != nil {
		return "", err
	}

	if res.PhoneNumber != claimedPhoneNumber {
		return "", fmt.Errorf("%w: asserted number does not match claimed number", ErrAssertionInvalid)
	}
	return res.PhoneNumber, nil
}

// call posts a JSON body and decodes the response, translating failures to
// the bridge error taxonomy.
func (b *HTTPBridge) call(ctx context.Context, path string, reqBody, resBody any) error {
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("encode provider request: %w", err)
	}

	_, err = b.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("build provider request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if b.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+b.apiKey)
		}

		resp, err := b.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return nil, fmt.Errorf("%w: provider returned %d", ErrProviderUnavailable, resp.StatusCode)
		}
		if resp.StatusCode >= 400 {
			return nil, translateProviderError(resp)
		}

		if err := json.NewDecoder(resp.Body).Decode(resBody); err != nil {
			return nil, fmt.Errorf("%w: decode provider response: %v", ErrProviderUnavailable, err)
		}
		return nil, nil
	})

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: circuit open", ErrProviderUnavailable)
	}
	return err
}

// translateProviderError maps a 4xx provider response to a taxonomy error
func translateProviderError(resp *http.Response) error {
	var body providerErrorResponse
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	_ = json.Unmarshal(raw, &body)

	if resp.StatusCode == http.StatusGone || body.Error == "assertion_expired" {
		return ErrAssertionExpired
	}
	if body.Error != "" {
		return fmt.Errorf("%w: %s", ErrAssertionInvalid, body.Error)
	}
	return fmt.Errorf("%w: provider returned %d", ErrAssertionInvalid, resp.StatusCode)
}
