package server

import (
	_ "embed"
	"html/template"
)

//go:embed templates/callback.html
var callbackPageTemplateHTML string

var callbackPageTemplate = template.Must(template.New("callback").Parse(callbackPageTemplateHTML))

// CallbackPageData is what the callback page renders from
type CallbackPageData struct {
	State        string
	Message      string
	Redirecting  bool
	EntryURL     string
	DelaySeconds int
	// CleanURL is the page address with the code removed; the page swaps it
	// into history on load.
	CleanURL string
	Nonce    string
}
