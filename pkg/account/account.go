// Package account talks to the lock vendor's remote API: registering mobile identities, fetching
// device certificates and fetching signed time.
package account

import (
	"bytes"
	"context"
	_ "embed" // Used to embed version for use with user agent
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sony/gobreaker/v2"

	"github.com/tedee/lock-command/internal/log"
	"github.com/tedee/lock-command/pkg/protocol"
)

var (
	//go:embed version.txt
	libraryVersion string
)

// DefaultBaseURL is the production API.
const DefaultBaseURL = "https://api.tedee.com"

// MaxResponseLength caps the size of response bodies.
const MaxResponseLength = 100000

var ErrTokenExpired = errors.New("access token has expired")

func buildUserAgent(app string) string {
	library := strings.TrimSpace("lock-command/" + libraryVersion)
	build, ok := debug.ReadBuildInfo()
	if !ok {
		return library
	}
	path := strings.Split(build.Path, "/")
	if len(path) == 0 {
		return library
	}

	if app == "" {
		app = path[len(path)-1]
		var version string
		if build.Main.Version != "(devel)" && build.Main.Version != "" {
			version = build.Main.Version
		} else {
			for _, info := range build.Settings {
				if info.Key == "vcs.revision" {
					if len(info.Value) > 8 {
						version = info.Value[0:8]
					}
					break
				}
			}
		}

		if version != "" {
			app = fmt.Sprintf("%s/%s", app, version)
		}
	}
	if app == "" {
		return library
	}
	return fmt.Sprintf("%s %s", app, library)
}

// Client calls the remote API on behalf of one account.
type Client struct {
	// The default UserAgent is constructed from the build info, but can be overridden.
	UserAgent string
	BaseURL   string
	// HTTPClient is used for all requests. Tests replace its Transport.
	HTTPClient http.Client

	authHeader string
	expiresAt  time.Time
	breaker    *gobreaker.CircuitBreaker[[]byte]
	now        func() time.Time
}

// BreakerSettings controls when the client stops calling an unhealthy API.
type BreakerSettings struct {
	// MaxFailures is the number of consecutive temporary failures that open the breaker.
	MaxFailures uint32
	// Timeout is how long the breaker stays open before a probe request is allowed.
	Timeout time.Duration
}

var DefaultBreakerSettings = BreakerSettings{MaxFailures: 5, Timeout: 30 * time.Second}

func newClient(authHeader, userAgent string, settings BreakerSettings) *Client {
	c := &Client{
		UserAgent:  buildUserAgent(userAgent),
		BaseURL:    DefaultBaseURL,
		HTTPClient: http.Client{Timeout: 30 * time.Second},
		authHeader: authHeader,
		now:        time.Now,
	}
	if settings.MaxFailures == 0 {
		settings.MaxFailures = DefaultBreakerSettings.MaxFailures
	}
	if settings.Timeout == 0 {
		settings.Timeout = DefaultBreakerSettings.Timeout
	}
	c.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "lock-api",
		MaxRequests: 1,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= settings.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warning("Circuit breaker %s changed from %s to %s", name, from, to)
		},
		// Rejected requests say nothing about the API's health.
		IsSuccessful: func(err error) bool {
			return err == nil || !protocol.Temporary(err)
		},
	})
	return c
}

// NewWithPersonalKey returns a Client that authenticates with a personal access key.
// Optional userAgent can be passed in - otherwise it will be generated from build info.
func NewWithPersonalKey(key, userAgent string, settings BreakerSettings) (*Client, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, fmt.Errorf("personal access key is empty")
	}
	return newClient("PersonalKey "+key, userAgent, settings), nil
}

// NewWithToken returns a Client that authenticates with an OAuth bearer token. The token's
// signature is not checked (that is the server's job), but expired tokens are rejected up front.
func NewWithToken(token, userAgent string, settings BreakerSettings) (*Client, error) {
	token = strings.TrimSpace(token)
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("client provided malformed OAuth token: %w", err)
	}
	c := newClient("Bearer "+token, userAgent, settings)
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return nil, fmt.Errorf("client provided malformed OAuth token: %w", err)
	}
	if exp != nil {
		c.expiresAt = exp.Time
		if c.expired() {
			return nil, ErrTokenExpired
		}
	}
	return c, nil
}

func (c *Client) expired() bool {
	return !c.expiresAt.IsZero() && !c.now().Before(c.expiresAt)
}

// envelope wraps every API response.
type envelope struct {
	Result        json.RawMessage `json:"result"`
	Success       bool            `json:"success"`
	ErrorMessages []string        `json:"errorMessages"`
	StatusCode    int             `json:"statusCode"`
}

func (e *envelope) message() string {
	if len(e.ErrorMessages) == 0 {
		return "request failed"
	}
	return strings.Join(e.ErrorMessages, "; ")
}

// do sends a request to endpoint and returns the "result" field of the response. The endpoint
// should contain only the path and query (e.g., "api/v1.32/my/mobile").
func (c *Client) do(ctx context.Context, method, endpoint string, payload interface{}) ([]byte, error) {
	if c.expired() {
		return nil, protocol.InvalidArgument("%w", ErrTokenExpired)
	}
	result, err := c.breaker.Execute(func() ([]byte, error) {
		return c.send(ctx, method, endpoint, payload)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, protocol.NetworkError(fmt.Errorf("%s %s not attempted: %w", method, endpoint, err))
	}
	return result, err
}

func (c *Client) send(ctx context.Context, method, endpoint string, payload interface{}) ([]byte, error) {
	url := fmt.Sprintf("%s/%s", strings.TrimSuffix(c.BaseURL, "/"), endpoint)
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		log.Debug("Sending request to %s: %s", url, encoded)
		body = bytes.NewReader(encoded)
	} else {
		log.Debug("Requesting %s...", url)
	}
	request, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("error constructing request to %s: %w", endpoint, err)
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Accept", "application/json")
	request.Header.Set("User-Agent", c.UserAgent)
	request.Header.Set("Authorization", c.authHeader)

	response, err := c.HTTPClient.Do(request)
	if err != nil {
		return nil, protocol.NetworkError(fmt.Errorf("error fetching %s: %w", endpoint, err))
	}
	defer response.Body.Close()

	reader := io.LimitedReader{R: response.Body, N: MaxResponseLength + 1}
	raw, err := io.ReadAll(&reader)
	if err != nil {
		return nil, protocol.NetworkError(fmt.Errorf("error reading %s: %w", endpoint, err))
	}
	if len(raw) > MaxResponseLength {
		return nil, protocol.ServerError(fmt.Errorf("response from %s exceeds maximum length", endpoint), false)
	}
	log.Debug("Server returned %d: %s: %s", response.StatusCode, http.StatusText(response.StatusCode), raw)

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)

	switch {
	case response.StatusCode == http.StatusNotFound:
		msg := http.StatusText(response.StatusCode)
		if decodeErr == nil {
			msg = env.message()
		}
		return nil, protocol.NotFoundError(fmt.Errorf("%s: %s", endpoint, msg))
	case response.StatusCode < 200 || response.StatusCode >= 300:
		msg := response.Status
		if decodeErr == nil && len(env.ErrorMessages) > 0 {
			msg = fmt.Sprintf("%s: %s", response.Status, env.message())
		}
		return nil, protocol.ServerError(fmt.Errorf("%s: %s", endpoint, msg), response.StatusCode >= 500)
	case decodeErr != nil:
		return nil, protocol.ServerError(fmt.Errorf("%s returned malformed response: %w", endpoint, decodeErr), false)
	case !env.Success:
		return nil, protocol.ServerError(fmt.Errorf("%s: %s", endpoint, env.message()), false)
	}
	return env.Result, nil
}
