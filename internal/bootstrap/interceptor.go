package bootstrap

import (
	"net/url"

	"github.com/vibesec/vibesec-login/internal/exchange"
	"github.com/vibesec/vibesec-login/internal/urlutil"
)

// Query parameters read from the page address
const (
	ParamCode             = "code"
	ParamError            = "error"
	ParamErrorDescription = "error_description"
)

// Location is the address of the page being activated
type Location interface {
	URL() *url.URL
	// Replace swaps the visible address in place, without a navigation
	Replace(u *url.URL)
}

// Navigator moves the user to another surface
type Navigator interface {
	Navigate(target string)
}

type action int

const (
	actionLogin action = iota
	actionFail
	actionExchange
)

type interception struct {
	action   action
	message  string
	envelope exchange.Envelope
}

// intercept reads loc once. A present code is stripped before it is looked
// at, so even an unusable code is gone from the address afterwards.
func intercept(loc Location) interception {
	u := loc.URL()
	q := u.Query()

	code, hasCode := q.Get(ParamCode), q.Has(ParamCode)
	if hasCode {
		loc.Replace(urlutil.WithoutParam(u, ParamCode))
	}

	if providerErr := q.Get(ParamError); providerErr != "" {
		return interception{
			action:  actionFail,
			message: providerMessage(providerErr, q.Get(ParamErrorDescription)),
		}
	}

	if code == "" {
		return interception{action: actionLogin}
	}

	env, err := ParseEnvelope(code)
	if err != nil {
		return interception{action: actionFail, message: envelopeMessage(err)}
	}
	return interception{action: actionExchange, envelope: env}
}
