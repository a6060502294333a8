package url

import (
	"fmt"
	"net/url"
	"strings"
)

const (
	ThreadsNetURL = "https://www.threads.net/"
	ThreadsComURL = "https://www.threads.com/"
)

func GetDomainFromUrl(rawUrl string) (string, error) {
	parsedURL, err := url.Parse(rawUrl)
	if err != nil {
		return "", fmt.Errorf("error parsing URL '%s': %v", rawUrl, err)
	}

	domain := parsedURL.Hostname()
	if domain == "" {
		return "", fmt.Errorf("no domain found in URL '%s'", rawUrl)
	}

	return domain, nil
}

// BaseURLFor picks the site root the automation windows should use, based on
// the page the usernames were collected from.
func BaseURLFor(currentURL string) string {
	domain, err := GetDomainFromUrl(currentURL)
	if err != nil {
		return ThreadsNetURL
	}
	if strings.Contains(domain, "threads.com") {
		return ThreadsComURL
	}
	return ThreadsNetURL
}

// ProfileURL builds {base}/@{username}.
func ProfileURL(baseURL, username string) string {
	return strings.TrimSuffix(baseURL, "/") + "/@" + username
}

// NormalizeUsername accepts "name", "@name" or a profile URL and returns the
// bare username. It returns "" when nothing usable is left.
func NormalizeUsername(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}

	if strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") {
		parsedURL, err := url.Parse(s)
		if err != nil {
			return ""
		}
		s = strings.Trim(parsedURL.Path, "/")
		if i := strings.Index(s, "/"); i >= 0 {
			s = s[:i]
		}
	}

	s = strings.TrimPrefix(s, "@")
	if strings.ContainsAny(s, " \t\n/?#") {
		return ""
	}
	return s
}
