package retrieve

import (
	"net/url"
	"strings"
	"time"
)

// Source tiers, expressed as base credibility scores.
const (
	tierPrimary   = 0.9
	tierSecondary = 0.6
	tierTertiary  = 0.3
)

// primaryDomains are institutional sources: government, standards bodies,
// peer-reviewed archives.
var primaryDomains = map[string]bool{
	"who.int":        true,
	"nih.gov":        true,
	"nasa.gov":       true,
	"europa.eu":      true,
	"un.org":         true,
	"nature.com":     true,
	"science.org":    true,
	"pubmed.gov":     true,
	"arxiv.org":      true,
	"data.gov":       true,
	"worldbank.org":  true,
	"imf.org":        true,
	"oecd.org":       true,
	"eurostat.ec.europa.eu": true,
}

// secondaryDomains are established press and reference works.
var secondaryDomains = map[string]bool{
	"reuters.com":       true,
	"apnews.com":        true,
	"bbc.com":           true,
	"bbc.co.uk":         true,
	"nytimes.com":       true,
	"washingtonpost.com": true,
	"theguardian.com":   true,
	"economist.com":     true,
	"ft.com":            true,
	"britannica.com":    true,
	"wikipedia.org":     true,
	"nejm.org":          true,
	"thelancet.com":     true,
}

// Credibility scores a source from its domain tier and recency. Fresh
// evidence from a primary source approaches 1.0; an undated tertiary blog
// sits near the floor. Deterministic given (url, published, now).
func Credibility(rawURL string, published *time.Time, now time.Time) float64 {
	base := domainTier(rawURL)
	return base*0.8 + recencyWeight(published, now)*0.2
}

func domainTier(rawURL string) float64 {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return tierTertiary
	}
	host := parsed.Hostname()

	for domain := range primaryDomains {
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return tierPrimary
		}
	}
	for domain := range secondaryDomains {
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return tierSecondary
		}
	}

	if strings.HasSuffix(host, ".gov") || strings.HasSuffix(host, ".edu") || strings.HasSuffix(host, ".ac.uk") {
		return tierPrimary
	}
	return tierTertiary
}

// recencyWeight decays with age; a missing date is treated as stale.
// Absence of a publication date is itself a credibility signal.
func recencyWeight(published *time.Time, now time.Time) float64 {
	if published == nil {
		return 0.1
	}
	age := now.Sub(*published)
	switch {
	case age < 0:
		return 0.1 // future-dated pages are suspect
	case age <= 30*24*time.Hour:
		return 1.0
	case age <= 365*24*time.Hour:
		return 0.7
	case age <= 5*365*24*time.Hour:
		return 0.4
	default:
		return 0.2
	}
}
