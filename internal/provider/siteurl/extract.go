// Package siteurl pulls a live deployment URL out of raw build logs.
// Hosting CLIs print the final address in free text, so extraction is a
// best-effort regexp cascade per provider.
package siteurl

import (
	"regexp"
	"strings"
)

// Provider hints select the pattern cascade.
const (
	ProviderVercel  = "vercel"
	ProviderNetlify = "netlify"
)

// Patterns are ordered most- to least-specific. The bare platform domain is
// the last resort.
var patterns = map[string][]*regexp.Regexp{
	ProviderVercel: {
		regexp.MustCompile(`Production:\s+(https://[^\s]+\.vercel\.app)`),
		regexp.MustCompile(`Preview:\s+(https://[^\s]+\.vercel\.app)`),
		regexp.MustCompile(`Deployed to\s+(https://[^\s]+\.vercel\.app)`),
		regexp.MustCompile(`(https://[a-z0-9][a-z0-9-]*[a-z0-9](?:-[a-z0-9]+)*\.vercel\.app)`),
	},
	ProviderNetlify: {
		regexp.MustCompile(`Published on\s+(https://[^\s]+\.netlify\.app)`),
		regexp.MustCompile(`Website URL:\s+(https://[^\s]+\.netlify\.app)`),
		regexp.MustCompile(`Unique deploy URL:\s+(https://[^\s]+\.netlify\.app)`),
		regexp.MustCompile(`(https://[a-z0-9][a-z0-9-]*\.netlify\.app)`),
	},
}

// Extract returns the live URL found in logs for the hinted provider, or ""
// when no pattern matches. When several matches exist the last one wins,
// since later log lines reflect the final state.
func Extract(logs, providerHint string) string {
	if strings.TrimSpace(logs) == "" {
		return ""
	}
	cascade, ok := patterns[strings.ToLower(strings.TrimSpace(providerHint))]
	if !ok {
		// Unknown provider: try every cascade, most specific first.
		for _, c := range patterns {
			if url := match(c, logs); url != "" {
				return url
			}
		}
		return ""
	}
	return match(cascade, logs)
}

func match(cascade []*regexp.Regexp, logs string) string {
	for _, re := range cascade {
		found := re.FindAllStringSubmatch(logs, -1)
		if len(found) == 0 {
			continue
		}
		last := found[len(found)-1]
		if len(last) > 1 {
			return strings.TrimRight(last[1], ".,")
		}
	}
	return ""
}
