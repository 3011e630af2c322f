package payment

import (
	"encoding/base64"
	"encoding/json"
	"net/url"
	"strings"

	"github.com/pkg/errors"
)

// NFCConfig describes the external tap-to-pay app.
type NFCConfig struct {
	Scheme   string `envconfig:"SCHEME" default:"tappay://charge"`
	Callback string `envconfig:"CALLBACK" default:"repairsync://payment/nfc-return"`
	Currency string `envconfig:"CURRENCY" default:"usd"`
}

// NFCPayload is the json carried in the deep link.
type NFCPayload struct {
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
	Reference   string `json:"reference"`
	Callback    string `json:"callback"`
}

// DeepLink encodes p as <scheme>?payload=<base64url(json)>.
func (c NFCConfig) DeepLink(p NFCPayload) (string, error) {
	if c.Scheme == "" {
		return "", errors.New("nfc: scheme not configured")
	}
	b, err := json.Marshal(p)
	if err != nil {
		return "", errors.Wrap(err, "nfc: encode payload")
	}
	sep := "?"
	if strings.Contains(c.Scheme, "?") {
		sep = "&"
	}
	return c.Scheme + sep + "payload=" + url.QueryEscape(base64.RawURLEncoding.EncodeToString(b)), nil
}

// DecodeDeepLink is the inverse of DeepLink, used by the simulator and tests.
func DecodeDeepLink(link string) (NFCPayload, error) {
	var p NFCPayload
	u, err := url.Parse(link)
	if err != nil {
		return p, errors.Wrap(err, "nfc: parse link")
	}
	raw, err := base64.RawURLEncoding.DecodeString(u.Query().Get("payload"))
	if err != nil {
		return p, errors.Wrap(err, "nfc: decode payload")
	}
	err = json.Unmarshal(raw, &p)
	return p, errors.Wrap(err, "nfc: unmarshal payload")
}
