// Package detector recognizes anti-bot challenges and unexpected markup in source responses.
package detector

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Verdict explains why a response was judged blocked.
type Verdict struct {
	Blocked bool
	// Empty is set when the page states that the search had no results.
	Empty  bool
	Reason string
}

// Heuristic implements rule-based block detection.
type Heuristic struct {
	BodyLengthThreshold int
}

// NewHeuristic creates a new detector. Bodies shorter than threshold that are mostly script
// are treated as challenge pages.
func NewHeuristic(threshold int) *Heuristic {
	if threshold == 0 {
		threshold = 2048
	}
	return &Heuristic{BodyLengthThreshold: threshold}
}

var blockedStatuses = map[int]bool{
	http.StatusUnauthorized:       true,
	http.StatusForbidden:          true,
	http.StatusTooManyRequests:    true,
	http.StatusServiceUnavailable: true,
}

var challengeMarkers = [][]byte{
	[]byte("captcha"),
	[]byte("cf-challenge"),
	[]byte("challenge-platform"),
	[]byte("are you a robot"),
	[]byte("are you human"),
	[]byte("unusual traffic"),
	[]byte("access denied"),
	[]byte("request blocked"),
	[]byte("px-captcha"),
	[]byte("distil_r_captcha"),
	[]byte("アクセスが制限"),
	[]byte("不正なアクセス"),
}

var spaMarkers = [][]byte{
	[]byte("__next"),
	[]byte("id=\"root\""),
	[]byte("id=\"app\""),
	[]byte("data-reactroot"),
}

// Inspect checks the status and body of a response before extraction. Markers in the body
// are left to Challenge so a working page that mentions them still yields its listings.
func (h *Heuristic) Inspect(status int, body []byte) Verdict {
	if blockedStatuses[status] {
		return Verdict{Blocked: true, Reason: fmt.Sprintf("status %d", status)}
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return Verdict{Blocked: true, Reason: "empty body"}
	}
	return Verdict{}
}

// Challenge looks for anti-bot interstitials. Call it only once extraction found nothing.
func (h *Heuristic) Challenge(body []byte) Verdict {
	lower := bytes.ToLower(body)
	for _, marker := range challengeMarkers {
		if bytes.Contains(lower, marker) {
			return Verdict{Blocked: true, Reason: fmt.Sprintf("challenge marker %q", marker)}
		}
	}
	if len(body) < h.BodyLengthThreshold && scriptDensityHigh(body) {
		return Verdict{Blocked: true, Reason: "script-only page"}
	}
	return Verdict{}
}

// UnexpectedMarkup reports pages where none of the item selectors match and nothing says the
// search simply had no results. emptyMarkers are matched case-insensitively against the text.
func (h *Heuristic) UnexpectedMarkup(doc *goquery.Document, itemSelectors, emptyMarkers []string) Verdict {
	if doc == nil {
		return Verdict{Blocked: true, Reason: "no document"}
	}
	for _, sel := range itemSelectors {
		if sel != "" && doc.Find(sel).Length() > 0 {
			return Verdict{}
		}
	}
	text := strings.ToLower(doc.Text())
	for _, marker := range emptyMarkers {
		if marker != "" && strings.Contains(text, strings.ToLower(marker)) {
			return Verdict{Empty: true, Reason: "no results marker"}
		}
	}
	html, err := doc.Html()
	if err == nil && ClientRendered([]byte(html)) {
		return Verdict{Blocked: true, Reason: "client-rendered shell"}
	}
	return Verdict{Blocked: true, Reason: "item selectors matched nothing"}
}

// ClientRendered reports whether the body looks like a JavaScript application shell.
func ClientRendered(body []byte) bool {
	for _, marker := range spaMarkers {
		if bytes.Contains(body, marker) {
			return true
		}
	}
	return false
}

func scriptDensityHigh(body []byte) bool {
	lower := strings.ToLower(string(body))
	total := len(lower)
	if total == 0 {
		return false
	}

	const (
		openTag  = "<script"
		closeTag = "</script>"
	)
	scriptCoverage := 0
	searchPos := 0

	for {
		relativeStart := strings.Index(lower[searchPos:], openTag)
		if relativeStart == -1 {
			break
		}
		start := searchPos + relativeStart

		tagClose := strings.IndexByte(lower[start:], '>')
		if tagClose == -1 {
			// Treat the rest of the document as part of the malformed script.
			scriptCoverage += total - start
			break
		}
		contentStart := start + tagClose + 1

		relativeEnd := strings.Index(lower[contentStart:], closeTag)
		nextSearch := total
		if relativeEnd != -1 {
			nextSearch = contentStart + relativeEnd + len(closeTag)
		}
		scriptCoverage += nextSearch - start
		searchPos = nextSearch
	}

	return scriptCoverage*100/total >= 25
}
