package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/pion/stun/v3"
	"github.com/pion/webrtc/v4"
)

const (
	envICEServersJSON = "MEDIANLINK_ICE_SERVERS_JSON"

	envStunURLs       = "MEDIANLINK_STUN_URLS"
	envTurnURLs       = "MEDIANLINK_TURN_URLS"
	envTurnUsername   = "MEDIANLINK_TURN_USERNAME"
	envTurnCredential = "MEDIANLINK_TURN_CREDENTIAL"
)

// DefaultStunURL is used when neither an ICE JSON config nor STUN URLs are given.
// Set MEDIANLINK_STUN_URLS to "none" to run host candidates only.
const DefaultStunURL = "stun:stun.l.google.com:19302"

// ICESettings are the raw ICE inputs. JSON, when set, replaces the
// convenience fields entirely.
type ICESettings struct {
	JSON           string
	STUNURLs       string
	TURNURLs       string
	TURNUsername   string
	TURNCredential string
}

// Servers validates s and returns the PeerConnection ICE server list.
func (s ICESettings) Servers() ([]webrtc.ICEServer, error) {
	if raw := strings.TrimSpace(s.JSON); raw != "" {
		servers, err := ParseICEServersJSON(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", envICEServersJSON, err)
		}
		return servers, nil
	}

	var servers []webrtc.ICEServer
	if stunURLs := splitList(s.STUNURLs); len(stunURLs) > 0 && !strings.EqualFold(stunURLs[0], "none") {
		server := webrtc.ICEServer{URLs: stunURLs}
		if err := checkICEServer(server); err != nil {
			return nil, fmt.Errorf("%s: %w", envStunURLs, err)
		}
		servers = append(servers, server)
	}

	if turnURLs := splitList(s.TURNURLs); len(turnURLs) > 0 {
		user := strings.TrimSpace(s.TURNUsername)
		cred := strings.TrimSpace(s.TURNCredential)
		if user == "" || cred == "" {
			return nil, fmt.Errorf("%s/%s: both must be set when %s is set", envTurnUsername, envTurnCredential, envTurnURLs)
		}
		server := webrtc.ICEServer{URLs: turnURLs, Username: user, Credential: cred}
		if err := checkICEServer(server); err != nil {
			return nil, fmt.Errorf("%s: %w", envTurnURLs, err)
		}
		servers = append(servers, server)
	}
	return servers, nil
}

// urlList accepts the browser RTCIceServer "urls" shape: a string or an
// array of strings.
type urlList []string

func (l *urlList) UnmarshalJSON(b []byte) error {
	var one string
	if json.Unmarshal(b, &one) == nil {
		*l = urlList{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return errors.New("urls must be a string or an array of strings")
	}
	*l = many
	return nil
}

// ParseICEServersJSON parses a JSON array of RTCIceServer objects.
func ParseICEServersJSON(raw string) ([]webrtc.ICEServer, error) {
	var entries []struct {
		URLs       urlList `json:"urls"`
		Username   string  `json:"username"`
		Credential string  `json:"credential"`
	}
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, err
	}

	out := make([]webrtc.ICEServer, 0, len(entries))
	for i, e := range entries {
		server := webrtc.ICEServer{
			URLs:     splitList(strings.Join(e.URLs, ",")),
			Username: strings.TrimSpace(e.Username),
		}
		if cred := strings.TrimSpace(e.Credential); cred != "" {
			server.Credential = cred
		}
		if err := checkICEServer(server); err != nil {
			return nil, fmt.Errorf("iceServers[%d]: %w", i, err)
		}
		out = append(out, server)
	}
	return out, nil
}

// checkICEServer parses every URL the way pion will and requires credentials
// on TURN entries.
func checkICEServer(server webrtc.ICEServer) error {
	if len(server.URLs) == 0 {
		return errors.New("missing urls")
	}
	for _, raw := range server.URLs {
		u, err := stun.ParseURI(raw)
		if err != nil {
			return fmt.Errorf("invalid url %q: %w", raw, err)
		}
		if u.Scheme != stun.SchemeTypeTURN && u.Scheme != stun.SchemeTypeTURNS {
			continue
		}
		if server.Username == "" {
			return fmt.Errorf("%q requires a username", raw)
		}
		if cred, _ := server.Credential.(string); cred == "" {
			return fmt.Errorf("%q requires a credential", raw)
		}
	}
	return nil
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
