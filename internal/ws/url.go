package ws

import (
	"fmt"
	"net/url"
	"strings"
)

// StreamURL builds the terminal stream endpoint:
// {base}/ws/terminal/{instance}?token={token}. http and https bases are
// mapped to ws and wss.
func StreamURL(base, instanceID, token string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid terminal url %q: %w", base, err)
	}

	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("invalid terminal url %q: unsupported scheme", base)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid terminal url %q: missing host", base)
	}

	basePath := strings.TrimRight(u.Path, "/")
	rawBase := strings.TrimRight(u.EscapedPath(), "/")
	u.Path = basePath + "/ws/terminal/" + instanceID
	u.RawPath = rawBase + "/ws/terminal/" + url.PathEscape(instanceID)

	q := url.Values{}
	q.Set("token", token)
	u.RawQuery = q.Encode()
	u.Fragment = ""

	return u.String(), nil
}
