package agent

import (
	"fmt"
	"net/url"
	"path"
	"strings"
)

// Known agent type tags, one per web-shell flavor.
const (
	TypePHP  = "php"
	TypeJSP  = "jsp"
	TypeASPX = "aspx"
)

// New constructs the agent variant named by typeHint, or infers the variant
// from the URL's page suffix when typeHint is empty. No network I/O happens
// here; a live endpoint is only required by EstablishSession.
func New(typeHint string, opts Options) (Agent, error) {
	tag := strings.ToLower(strings.TrimSpace(typeHint))
	if tag == "" {
		tag = inferType(opts.URL)
	}

	switch tag {
	case TypePHP, TypeJSP, TypeASPX:
		return newWebAgent(tag, opts)
	default:
		return nil, &Error{Kind: KindUnknownType, Op: "create", Err: fmt.Errorf("no agent for type %q (url %q)", typeHint, opts.URL)}
	}
}

// inferType maps the URL's trailing path extension onto a known type tag.
// Pure string matching, so an unrecognized suffix simply yields "".
func inferType(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}

	switch strings.ToLower(path.Ext(u.Path)) {
	case ".php":
		return TypePHP
	case ".jsp":
		return TypeJSP
	case ".aspx":
		return TypeASPX
	}
	return ""
}
