package captcha

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"scrapekit/pkg/utils"
)

// Marker selectors per vendor, checked in order
var challengeSelectors = []struct {
	kind      Type
	selectors []string
}{
	{TypeRecaptcha, []string{".g-recaptcha", `iframe[src*="recaptcha"]`, `script[src*="recaptcha"]`}},
	{TypeHCaptcha, []string{".h-captcha", `iframe[src*="hcaptcha.com"]`, `script[src*="hcaptcha.com"]`}},
	{TypeTurnstile, []string{".cf-turnstile", `iframe[src*="challenges.cloudflare.com"]`, `script[src*="challenges.cloudflare.com/turnstile"]`}},
	{TypeUnknown, []string{`iframe[src*="arkoselabs"]`, `iframe[src*="funcaptcha"]`, `[id*="captcha"]`, `[class*="captcha"]`, `[name*="captcha"]`}},
}

var captchaKeywords = []string{
	"captcha",
	"robot check",
	"human verification",
	"security check",
}

var cloudflareIndicators = []string{
	"cf-challenge",
	"just a moment",
	"please wait while we verify",
	"checking your browser",
	"ddos protection by cloudflare",
	"cf-browser-verification",
	"__cf_chl_jschl_tk__",
	"performance & security by cloudflare",
}

var sitekeyPatterns = []string{
	`data-sitekey="([^"]+)"`,
	`data-sitekey='([^']+)'`,
	`"sitekey"\s*:\s*"([^"]+)"`,
	`'sitekey'\s*:\s*'([^']+)'`,
	`api\.js\?render=([0-9A-Za-z_-]{20,})`,
	`grecaptcha\.render\([^,]+,\s*\{[^}]*sitekey['"]?\s*:\s*['"]([^'"]+)['"]`,
}

var turnstilePatterns = []string{
	`<div[^>]*class="[^"]*cf-turnstile[^"]*"[^>]*data-sitekey="([^"]+)"`,
	`<div[^>]*data-sitekey="([^"]+)"[^>]*class="[^"]*cf-turnstile[^"]*"`,
	`turnstile\.render\([^)]*['"](0x[0-9a-zA-Z_-]{10,})['"]`,
	`challenges\.cloudflare\.com/cdn-cgi/challenge-platform/[^"]*/(0x[0-9a-zA-Z_-]+)/`,
	`challenges\.cloudflare\.com[^"]*/(0x[0-9a-zA-Z_-]+)/`,
}

// Detect inspects html for a CAPTCHA. The returned challenge carries the
// vendor type and the site key when one could be extracted.
func Detect(html, pageURL string) (Challenge, bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return Challenge{}, false
	}

	for _, group := range challengeSelectors {
		for _, sel := range group.selectors {
			found := doc.Find(sel)
			if found.Length() == 0 {
				continue
			}
			ch := Challenge{URL: pageURL, Type: group.kind}
			ch.SiteKey = siteKeyFromSelection(found)
			if ch.SiteKey == "" {
				ch.SiteKey = extractSiteKey(html, group.kind)
			}
			if ch.Type == TypeUnknown {
				ch.Type = refineType(html)
			}
			return ch, true
		}
	}

	lower := strings.ToLower(html)
	for _, indicator := range cloudflareIndicators {
		if strings.Contains(lower, indicator) {
			return Challenge{URL: pageURL, Type: TypeTurnstile, SiteKey: extractSiteKey(html, TypeTurnstile)}, true
		}
	}

	text := strings.ToLower(doc.Find("body").Text())
	for _, kw := range captchaKeywords {
		if strings.Contains(text, kw) {
			kind := refineType(html)
			return Challenge{URL: pageURL, Type: kind, SiteKey: extractSiteKey(html, kind)}, true
		}
	}

	return Challenge{}, false
}

// HasCaptcha reports whether html carries any known challenge marker
func HasCaptcha(html string) bool {
	_, ok := Detect(html, "")
	return ok
}

func siteKeyFromSelection(sel *goquery.Selection) string {
	var key string
	sel.EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if v, ok := s.Attr("data-sitekey"); ok && strings.TrimSpace(v) != "" {
			key = strings.TrimSpace(v)
			return false
		}
		return true
	})
	return key
}

func extractSiteKey(html string, kind Type) string {
	if kind == TypeTurnstile {
		for _, pattern := range turnstilePatterns {
			if m := utils.FindRegexMatch(html, pattern); len(m) > 1 && len(strings.TrimSpace(m[1])) > 10 {
				return strings.TrimSpace(m[1])
			}
		}
	}
	for _, pattern := range sitekeyPatterns {
		if m := utils.FindRegexMatch(html, pattern); len(m) > 1 {
			return strings.TrimSpace(m[1])
		}
	}
	return ""
}

// refineType guesses the vendor from script sources for generic captcha markers
func refineType(html string) Type {
	lower := strings.ToLower(html)
	switch {
	case strings.Contains(lower, "hcaptcha.com"):
		return TypeHCaptcha
	case strings.Contains(lower, "recaptcha"):
		return TypeRecaptcha
	case strings.Contains(lower, "turnstile") || strings.Contains(lower, "challenges.cloudflare.com"):
		return TypeTurnstile
	default:
		return TypeUnknown
	}
}

// IsCloudflareResolved reports whether a previously challenged page now shows content
func IsCloudflareResolved(html string) bool {
	lower := strings.ToLower(html)
	for _, indicator := range cloudflareIndicators {
		if strings.Contains(lower, indicator) {
			return false
		}
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return false
	}
	if doc.Find("main, article, section").Length() > 0 {
		return true
	}
	return len(strings.TrimSpace(doc.Find("body").Text())) > 200
}
