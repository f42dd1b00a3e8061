// Package validation checks user supplied softphone settings before a call
// is placed.
package validation

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var (
	// CallIDRegex validates call ids issued by the call-control service
	CallIDRegex = regexp.MustCompile(`^[a-zA-Z0-9._:-]+$`)

	// iceURLRegex matches stun:host[:port] and turn(s):host[:port][?transport=udp|tcp]
	iceURLRegex = regexp.MustCompile(`^(stun|stuns|turn|turns):[^\s:?]+(:\d{1,5})?(\?transport=(udp|tcp))?$`)
)

var audioCodecs = map[string]bool{
	"opus": true,
	"pcmu": true,
	"pcma": true,
	"g722": true,
}

// ValidateCallID validates call id
func ValidateCallID(callID string) error {
	if callID == "" {
		return fmt.Errorf("call id is required")
	}
	if len(callID) > 128 {
		return fmt.Errorf("call id is too long (max 128 characters)")
	}
	if !CallIDRegex.MatchString(callID) {
		return fmt.Errorf("call id contains invalid characters")
	}
	return nil
}

// ValidateSignalingURL validates the WebSocket endpoint of the call-control service
func ValidateSignalingURL(urlStr string) error {
	if urlStr == "" {
		return fmt.Errorf("signaling URL is required")
	}
	u, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("invalid signaling URL format: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("invalid signaling URL scheme %q (must be ws or wss)", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("signaling URL must have a host")
	}
	return nil
}

// ValidateICEServerURL validates a STUN or TURN server URL
func ValidateICEServerURL(urlStr string) error {
	if !iceURLRegex.MatchString(urlStr) {
		return fmt.Errorf("invalid ICE server URL %q", urlStr)
	}
	return nil
}

// ValidateTURNCredentials requires a username and credential for turn URLs
func ValidateTURNCredentials(urls []string, username, credential string) error {
	for _, u := range urls {
		if strings.HasPrefix(u, "turn") && (username == "" || credential == "") {
			return fmt.Errorf("TURN server %q requires username and credential", u)
		}
	}
	return nil
}

// ValidateAudioCodec accepts an empty name (no forcing) or a known codec
func ValidateAudioCodec(codec string) error {
	if codec == "" {
		return nil
	}
	if !audioCodecs[strings.ToLower(codec)] {
		return fmt.Errorf("unsupported audio codec %q (must be opus, PCMU, PCMA or G722)", codec)
	}
	return nil
}
