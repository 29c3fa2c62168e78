package capture

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Cookie is a pre-accept consent cookie set before navigation.
type Cookie struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Domain string `json:"domain"`
	Path   string `json:"path"`
}

// Payload bundles the style, script and cookies injected into a capture.
type Payload struct {
	CSS     string
	Script  string
	Cookies []Cookie
}

// consentSelectors hide the containers of common consent management platforms.
var consentSelectors = []string{
	"#onetrust-consent-sdk",
	"#onetrust-banner-sdk",
	"#CybotCookiebotDialog",
	"#CybotCookiebotDialogBodyUnderlay",
	"#usercentrics-root",
	"#didomi-host",
	"#didomi-notice",
	"#qc-cmp2-container",
	"#truste-consent-track",
	"#cmpbox",
	"#cmpbox2",
	".cc-window",
	".cc-banner",
	".cookie-banner",
	".cookie-consent",
	".cookie-notice",
	".cookies-banner",
	".gdpr-banner",
	".consent-banner",
	".fc-consent-root",
	".osano-cm-window",
	".termly-styles-root",
	"#cookie-law-info-bar",
	"#cookie-notice",
	"#cookieConsent",
	"#gdpr-cookie-message",
	"[aria-label=\"cookieconsent\"]",
	"[id^=\"sp_message_container\"]",
	"[class*=\"cookie-banner\"]",
	"[class*=\"CookieConsent\"]",
}

// consentKeywords identify fixed overlays that mention cookies or consent.
var consentKeywords = []string{
	"cookie",
	"cookies",
	"consent",
	"gdpr",
	"privacy preferences",
	"datenschutz",
	"accept all",
}

// consentCookies pre-accept common platforms so banners never render.
var consentCookies = []Cookie{
	{Name: "OptanonAlertBoxClosed", Value: "2024-01-01T00:00:00.000Z"},
	{Name: "OptanonConsent", Value: "isGpcEnabled=0&isIABGlobal=false&groups=C0001:1,C0002:1,C0003:1,C0004:1"},
	{Name: "CookieConsent", Value: "{stamp:'-1',necessary:true,preferences:true,statistics:true,marketing:true,ver:1}"},
	{Name: "cookieconsent_status", Value: "dismiss"},
	{Name: "cookie_consent", Value: "accepted"},
	{Name: "cookies_accepted", Value: "true"},
	{Name: "gdpr_consent", Value: "1"},
	{Name: "didomi_token", Value: "accepted"},
	{Name: "euconsent-v2", Value: "accepted"},
	{Name: "cmplz_consent_status", Value: "allow"},
}

// observeWindowMs bounds how long the script keeps reacting to DOM mutations.
const observeWindowMs = 4000

// BuildSuppressionPayload returns the consent-hiding payload for hostname.
// It is deterministic and performs no I/O.
func BuildSuppressionPayload(hostname string) Payload {
	domain := cookieDomain(hostname)
	cookies := make([]Cookie, 0, len(consentCookies))
	if domain != "" {
		for _, c := range consentCookies {
			c.Domain = domain
			c.Path = "/"
			cookies = append(cookies, c)
		}
	}
	css := buildCSS()
	return Payload{
		CSS:     css,
		Script:  buildScript(css),
		Cookies: cookies,
	}
}

func cookieDomain(hostname string) string {
	host := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(hostname)), ".")
	host = strings.TrimPrefix(host, "www.")
	if host == "" {
		return ""
	}
	return "." + host
}

func buildCSS() string {
	var b strings.Builder
	b.WriteString(strings.Join(consentSelectors, ",\n"))
	b.WriteString(" {\n  display: none !important;\n  visibility: hidden !important;\n  opacity: 0 !important;\n  pointer-events: none !important;\n}\n")
	b.WriteString("html, body {\n  overflow: auto !important;\n  position: static !important;\n}\n")
	return b.String()
}

const scriptTemplate = `(function () {
  try {
    if (window.__demoshotConsent) { window.__demoshotConsent.apply(); return; }
    var css = %CSS%;
    var selectors = %SELECTORS%;
    var keywords = %KEYWORDS%;
    function addStyle() {
      try {
        if (document.getElementById('demoshot-consent-style')) { return; }
        var style = document.createElement('style');
        style.id = 'demoshot-consent-style';
        style.textContent = css;
        (document.head || document.documentElement).appendChild(style);
      } catch (e) {}
    }
    function hideOverlays() {
      try {
        var nodes = document.querySelectorAll('div,section,aside,dialog,iframe');
        for (var i = 0; i < nodes.length; i++) {
          try {
            var el = nodes[i];
            var cs = window.getComputedStyle(el);
            if (cs.position !== 'fixed' && cs.position !== 'sticky') { continue; }
            var text = (el.innerText || el.id || el.className || '').toString().toLowerCase();
            for (var k = 0; k < keywords.length; k++) {
              if (text.indexOf(keywords[k]) !== -1) {
                el.style.setProperty('display', 'none', 'important');
                break;
              }
            }
          } catch (e) {}
        }
        for (var s = 0; s < selectors.length; s++) {
          try {
            var matches = document.querySelectorAll(selectors[s]);
            for (var m = 0; m < matches.length; m++) {
              matches[m].style.setProperty('display', 'none', 'important');
            }
          } catch (e) {}
        }
        if (document.body) {
          document.body.style.setProperty('overflow', 'auto', 'important');
          document.body.classList.remove('modal-open', 'no-scroll', 'noscroll');
        }
      } catch (e) {}
    }
    function apply() { addStyle(); hideOverlays(); }
    window.__demoshotConsent = { apply: apply };
    apply();
    try {
      var observer = new MutationObserver(function () { apply(); });
      var start = function () {
        try {
          observer.observe(document.documentElement, { childList: true, subtree: true });
          setTimeout(function () { try { observer.disconnect(); } catch (e) {} }, %WINDOW%);
        } catch (e) {}
      };
      if (document.documentElement) { start(); } else { document.addEventListener('DOMContentLoaded', start); }
    } catch (e) {}
    if (document.readyState === 'loading') {
      document.addEventListener('DOMContentLoaded', apply);
    }
  } catch (e) {}
})();`

func buildScript(css string) string {
	r := strings.NewReplacer(
		"%CSS%", jsString(css),
		"%SELECTORS%", jsArray(consentSelectors),
		"%KEYWORDS%", jsArray(consentKeywords),
		"%WINDOW%", strconv.Itoa(observeWindowMs),
	)
	return r.Replace(scriptTemplate)
}

func jsString(s string) string {
	b, err := json.Marshal(s)
	if err != nil {
		return `""`
	}
	return string(b)
}

func jsArray(values []string) string {
	b, err := json.Marshal(values)
	if err != nil {
		return "[]"
	}
	return string(b)
}
