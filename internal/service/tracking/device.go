package tracking

import "strings"

// scannerPatterns match user agents of link scanners, proxies and
// prefetchers that hit pixels and links without a human involved.
var scannerPatterns = []string{
	"bot", "crawler", "spider", "slurp", "googlebot", "bingbot",
	"yahoo", "baidu", "yandex", "preview", "proxy", "scanner",
	"googleimageproxy", "safelinks", "barracuda", "mimecast", "proofpoint",
}

// DetectDevice classifies a user agent as mobile, tablet or desktop.
func DetectDevice(ua string) string {
	ua = strings.ToLower(ua)
	if strings.Contains(ua, "tablet") || strings.Contains(ua, "ipad") {
		return "tablet"
	}
	if strings.Contains(ua, "mobile") || strings.Contains(ua, "android") || strings.Contains(ua, "iphone") {
		return "mobile"
	}
	return "desktop"
}

// IsScanner reports whether the user agent looks like an automated fetcher.
// The flag is recorded as metadata only and does not affect scoring.
func IsScanner(ua string) bool {
	ua = strings.ToLower(ua)
	for _, pattern := range scannerPatterns {
		if strings.Contains(ua, pattern) {
			return true
		}
	}
	return false
}
