// Package sanitizer strips unsafe markup from email HTML bodies before they
// leave the API.
package sanitizer

import (
	"net/url"
	"regexp"

	"github.com/microcosm-cc/bluemonday"
)

// HTMLSanitizer sanitizes email HTML for safe rendering in clients
type HTMLSanitizer struct {
	policy *bluemonday.Policy
}

// NewHTMLSanitizer builds the sanitization policy used for email bodies.
// Starts from the UGC policy and allows the formatting email clients commonly
// produce, with images restricted to https and cid sources.
func NewHTMLSanitizer() *HTMLSanitizer {
	p := bluemonday.UGCPolicy()

	p.AllowElements("center", "font", "style")
	p.AllowAttrs("style").Globally()
	p.AllowAttrs("width", "height", "align", "valign", "bgcolor", "cellpadding", "cellspacing", "border").
		OnElements("table", "tr", "td", "th", "img")
	p.AllowAttrs("color", "face", "size").OnElements("font")

	p.AllowAttrs("src", "alt", "title").OnElements("img")
	p.AllowURLSchemes("https", "cid")
	p.AllowURLSchemeWithCustomPolicy("data", func(u *url.URL) bool {
		return dataImageRe.MatchString(u.String())
	})

	p.RequireNoFollowOnLinks(true)
	p.AddTargetBlankToFullyQualifiedLinks(true)

	return &HTMLSanitizer{policy: p}
}

var dataImageRe = regexp.MustCompile(`^data:image/(png|jpeg|gif|webp);base64,`)

// Sanitize returns the HTML with disallowed elements and attributes removed
func (s *HTMLSanitizer) Sanitize(html string) string {
	if html == "" {
		return ""
	}
	return s.policy.Sanitize(html)
}
