package bootstrap

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	"github.com/vibesec/vibesec-login/internal/exchange"
)

var (
	// ErrMalformedEnvelope covers a code that fails percent-decoding or is
	// not a JSON object.
	ErrMalformedEnvelope = errors.New("malformed authorization envelope")
	// ErrIncompleteEnvelope is a well-formed code missing data or signature
	ErrIncompleteEnvelope = errors.New("authorization envelope is missing data or signature")
)

// ParseEnvelope decodes the value of the code query parameter. The value has
// already been through query unescaping; the envelope is percent-encoded
// once more on top of that, so it is unescaped again here before the JSON
// parse. Neither field is interpreted.
func ParseEnvelope(code string) (exchange.Envelope, error) {
	decoded, err := url.PathUnescape(code)
	if err != nil {
		return exchange.Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}

	var env exchange.Envelope
	if err := json.Unmarshal([]byte(decoded), &env); err != nil {
		return exchange.Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if env.Data == "" || env.Signature == "" {
		return exchange.Envelope{}, ErrIncompleteEnvelope
	}
	return env, nil
}

// EncodeEnvelope is the inverse of ParseEnvelope, producing the value to
// place in the code parameter.
func EncodeEnvelope(env exchange.Envelope) (string, error) {
	raw, err := json.Marshal(env)
	if err != nil {
		return "", err
	}
	return url.PathEscape(string(raw)), nil
}
