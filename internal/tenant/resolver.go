package tenant

import (
	"net"
	"strings"
)

type Rules struct {
	// DevSlug is returned for localhost so the card app works without DNS.
	DevSlug string
	// MinLabels is the smallest label count that carries a subdomain,
	// e.g. 3 for "morsiburger.mangialoqui.com".
	MinLabels int
	// Reserved first labels never name a restaurant.
	Reserved []string
}

// Resolve extracts the restaurant slug from a request host.
func (r Rules) Resolve(hostname string) (string, bool) {
	host := strings.ToLower(strings.TrimSpace(hostname))
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.TrimSuffix(host, ".")
	if host == "" {
		return "", false
	}

	if host == "localhost" || strings.HasSuffix(host, ".localhost") || host == "127.0.0.1" || host == "::1" {
		if r.DevSlug == "" {
			return "", false
		}
		return r.DevSlug, true
	}
	if net.ParseIP(host) != nil {
		return "", false
	}

	labels := strings.Split(host, ".")
	minLabels := r.MinLabels
	if minLabels < 2 {
		minLabels = 3
	}
	if len(labels) < minLabels {
		return "", false
	}

	slug := labels[0]
	if !validLabel(slug) {
		return "", false
	}
	for _, reserved := range r.Reserved {
		if slug == reserved {
			return "", false
		}
	}
	return slug, true
}

func validLabel(label string) bool {
	if label == "" || len(label) > 63 {
		return false
	}
	if label[0] == '-' || label[len(label)-1] == '-' {
		return false
	}
	for _, c := range label {
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') && c != '-' {
			return false
		}
	}
	return true
}
