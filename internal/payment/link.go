package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// LinkRequest asks the hosted provider for a payment page.
type LinkRequest struct {
	Reference   string `json:"reference"`
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
	Description string `json:"description"`
	RedirectURL string `json:"redirect_url"`
}

// LinkProvider creates hosted payment links. Completion is reported back
// through the provider webhook, never through this call.
type LinkProvider interface {
	CreateLink(ctx context.Context, req LinkRequest) (string, error)
}

// HTTPLinkProvider talks JSON to the provider's create endpoint.
type HTTPLinkProvider struct {
	Endpoint string
	APIKey   string
	Client   *http.Client
}

// NewHTTPLinkProvider returns a provider with a bounded client timeout.
func NewHTTPLinkProvider(endpoint, apiKey string, timeout time.Duration) *HTTPLinkProvider {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPLinkProvider{Endpoint: endpoint, APIKey: apiKey, Client: &http.Client{Timeout: timeout}}
}

func (p *HTTPLinkProvider) CreateLink(ctx context.Context, req LinkRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", errors.Wrap(err, "encode link request")
	}
	hr, err := http.NewRequestWithContext(ctx, http.MethodPost, p.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", errors.Wrap(err, "build link request")
	}
	hr.Header.Set("Content-Type", "application/json")
	if p.APIKey != "" {
		hr.Header.Set("Authorization", "Bearer "+p.APIKey)
	}
	res, err := p.Client.Do(hr)
	if err != nil {
		return "", errors.Wrap(err, "link provider unreachable")
	}
	defer res.Body.Close()
	if res.StatusCode/100 != 2 {
		return "", errors.Errorf("link provider returned %d", res.StatusCode)
	}
	var out struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return "", errors.Wrap(err, "decode link response")
	}
	if out.URL == "" {
		return "", errors.New("link provider returned no url")
	}
	return out.URL, nil
}

// CachedLinks reuses a created link for the same repair and amount until
// the TTL runs out, so re-entering the wizard shows the same QR code.
// A nil Redis client disables caching.
type CachedLinks struct {
	Provider LinkProvider
	Redis    *redis.Client
	TTL      time.Duration
}

func linkKey(req LinkRequest) string {
	return fmt.Sprintf("paylink:%s:%d", req.Reference, req.AmountCents)
}

func (c *CachedLinks) CreateLink(ctx context.Context, req LinkRequest) (string, error) {
	if c.Redis == nil || c.TTL <= 0 {
		return c.Provider.CreateLink(ctx, req)
	}
	key := linkKey(req)
	if u, err := c.Redis.Get(ctx, key).Result(); err == nil && u != "" {
		return u, nil
	} else if err != nil && !errors.Is(err, redis.Nil) {
		log.WithField("component", "payment").WithError(err).Warn("link cache read failed")
	}
	u, err := c.Provider.CreateLink(ctx, req)
	if err != nil {
		return "", err
	}
	if err := c.Redis.Set(ctx, key, u, c.TTL).Err(); err != nil {
		log.WithField("component", "payment").WithError(err).Warn("link cache write failed")
	}
	return u, nil
}
