package session

import (
	"fmt"
	"net/url"
	"strings"
)

// Channel is the purpose of a streaming socket.
type Channel string

const (
	ChannelTerminal Channel = "terminal"
	ChannelMetrics  Channel = "metrics"
)

// Path returns the per-deployment path suffix for the channel.
func (c Channel) Path() string {
	switch c {
	case ChannelTerminal:
		return "/terminal"
	case ChannelMetrics:
		return "/metrics/stream"
	}
	return ""
}

// Valid reports whether c is a known channel.
func (c Channel) Valid() bool {
	return c.Path() != ""
}

// Endpoint builds the WebSocket URL for a deployment channel from the REST
// API base. The scheme is rewritten http→ws and https→wss.
//
//	Endpoint("https://api.example.com/v1", "dep-1", ChannelMetrics)
//	// wss://api.example.com/v1/deployments/dep-1/metrics/stream
func Endpoint(apiBase, target string, ch Channel) (string, error) {
	if !ch.Valid() {
		return "", fmt.Errorf("unknown channel %q", ch)
	}
	if strings.TrimSpace(target) == "" {
		return "", fmt.Errorf("target id is empty")
	}

	u, err := url.Parse(strings.TrimSpace(apiBase))
	if err != nil {
		return "", fmt.Errorf("invalid API base URL %q: %w", apiBase, err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("invalid API base URL %q: scheme must be http or https", apiBase)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid API base URL %q: missing host", apiBase)
	}

	raw := strings.TrimRight(u.EscapedPath(), "/") + "/deployments/" + url.PathEscape(target) + ch.Path()
	path, err := url.PathUnescape(raw)
	if err != nil {
		return "", err
	}
	u.Path = path
	u.RawPath = raw
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}
