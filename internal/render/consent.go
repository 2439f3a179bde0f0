package render

import (
	"context"
	"errors"
	"time"
)

// DefaultConsentTimeout bounds a single matcher attempt
const DefaultConsentTimeout = 1500 * time.Millisecond

// errNoMatch is returned by a consent clicker when its matcher is absent
var errNoMatch = errors.New("no consent element")

// ConsentMatcher identifies a cookie-consent accept control. Text, when set,
// is a JavaScript regular expression the element's text must match.
type ConsentMatcher struct {
	Name     string
	Selector string
	Text     string
	Timeout  time.Duration
}

// ConsentOutcome reports what the dismissal sequence did
type ConsentOutcome struct {
	Attempts int
	Matched  string
	Elapsed  time.Duration
}

// DefaultConsentMatchers are tried in order; the first click that succeeds ends the sequence
var DefaultConsentMatchers = []ConsentMatcher{
	{Name: "onetrust", Selector: "#onetrust-accept-btn-handler"},
	{Name: "cookiebot", Selector: "#CybotCookiebotDialogBodyLevelButtonLevelOptinAllowAll"},
	{Name: "didomi", Selector: "#didomi-notice-agree-button"},
	{Name: "quantcast", Selector: ".qc-cmp2-summary-buttons button[mode=primary]"},
	{Name: "cookielaw", Selector: "button.cookie-consent-accept, button#accept-cookies"},
	{Name: "button-nl", Selector: "button", Text: "^\\s*(Alles accepteren|Alle cookies accepteren|Accepteren|Akkoord)\\s*$"},
	{Name: "button-en", Selector: "button", Text: "^\\s*(Accept all|Accept all cookies|Accept|I agree|Agree)\\s*$"},
}

// consentClicker clicks the matcher's element, returning errNoMatch when it is absent
type consentClicker func(ctx context.Context, m ConsentMatcher) error

// dismissConsent tries each matcher under its own timeout. Failures never
// propagate; the outcome says how many matchers were tried and which one fired.
func dismissConsent(ctx context.Context, matchers []ConsentMatcher, click consentClicker) ConsentOutcome {
	start := time.Now()
	var out ConsentOutcome

	for _, m := range matchers {
		if ctx.Err() != nil {
			break
		}

		timeout := m.Timeout
		if timeout <= 0 {
			timeout = DefaultConsentTimeout
		}

		out.Attempts++
		mctx, cancel := context.WithTimeout(ctx, timeout)
		err := click(mctx, m)
		cancel()

		if err == nil {
			out.Matched = m.Name
			break
		}
	}

	out.Elapsed = time.Since(start)
	return out
}
