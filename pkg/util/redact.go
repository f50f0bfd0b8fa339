package util

import (
	"fmt"
	"net/url"
)

// RedactURL hides the password of a url with user info.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	return u.Redacted()
}

// RedactSecret keeps a few characters on each end of key.
func RedactSecret(key string) string {
	if key == "" {
		return ""
	}

	var prefix, suffix string
	for i := 3; i > 0; i-- {
		if len(key) >= i*3 {
			prefix = key[:i]
			suffix = key[len(key)-i:]
			break
		}
	}

	return fmt.Sprintf("{%s...%s}", prefix, suffix)
}

func Redact(s, name string) string {
	if s != "" {
		return name
	}
	return ""
}
