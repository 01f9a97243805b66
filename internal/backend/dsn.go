package backend

import (
	"errors"
	"net/url"
	"strings"
)

var (
	ErrInvalidDSN     = errors.New("invalid dsn")
	ErrNotImplemented = errors.New("not implemented")
)

// ParseDSN splits a backend DSN into its lower-cased scheme and parsed URL.
// A bare filesystem path has an empty scheme.
func ParseDSN(dsn string) (string, *url.URL, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return "", nil, ErrInvalidDSN
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return "", nil, err
	}
	return NormalizeScheme(parsed.Scheme), parsed, nil
}

func NormalizeScheme(scheme string) string {
	return strings.ToLower(strings.TrimSpace(scheme))
}

// Path extracts a filesystem path from file://, sqlite:// style DSNs.
func Path(parsed *url.URL, raw string) (string, error) {
	if parsed == nil {
		return "", ErrInvalidDSN
	}
	if strings.TrimSpace(parsed.Scheme) == "" {
		if strings.TrimSpace(raw) == "" {
			return "", ErrInvalidDSN
		}
		return strings.TrimSpace(raw), nil
	}
	path := ""
	if host := strings.TrimSpace(parsed.Host); host != "" {
		path = host + parsed.Path
	} else {
		path = strings.TrimSpace(parsed.Path)
	}
	if path == "" {
		path = strings.TrimSpace(parsed.Opaque)
	}
	if path == "" {
		return "", ErrInvalidDSN
	}
	return path, nil
}
