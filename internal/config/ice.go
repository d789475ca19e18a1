package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	jsoniter "github.com/json-iterator/go"
	"github.com/pion/webrtc/v4"
	"github.com/samber/lo"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var DefaultSTUNServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

type iceServerJSON struct {
	URLs       stringOrStringSlice `json:"urls"`
	Username   string              `json:"username,omitempty"`
	Credential string              `json:"credential,omitempty"`
}

type stringOrStringSlice []string

func (s *stringOrStringSlice) UnmarshalJSON(b []byte) error {
	var single string
	if err := json.Unmarshal(b, &single); err == nil {
		*s = []string{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return err
	}
	*s = many
	return nil
}

// Servers returns the validated ICE server list for the peer transport.
func (c WebRTCConfig) Servers() ([]webrtc.ICEServer, error) {
	if raw := strings.TrimSpace(c.ICEServersJSON); raw != "" {
		servers, err := ParseICEServersJSON(raw)
		if err != nil {
			return nil, fmt.Errorf("ice_servers_json: %w", err)
		}
		return servers, nil
	}
	return iceServers("ice_servers", c.ICEServers)
}

// ParseICEServersJSON parses a browser style RTCIceServer list, where urls
// may be a single string or an array.
func ParseICEServersJSON(raw string) ([]webrtc.ICEServer, error) {
	var servers []iceServerJSON
	if err := json.Unmarshal([]byte(raw), &servers); err != nil {
		return nil, err
	}
	return iceServers("iceServers", lo.Map(servers, func(s iceServerJSON, _ int) ICEServerConfig {
		return ICEServerConfig{URLs: s.URLs, Username: s.Username, Credential: s.Credential}
	}))
}

func iceServers(field string, configs []ICEServerConfig) ([]webrtc.ICEServer, error) {
	out := make([]webrtc.ICEServer, 0, len(configs))
	for i, cfg := range configs {
		cfg = cfg.trimmed()
		if err := validate.Struct(cfg); err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", field, i, err)
		}
		server := webrtc.ICEServer{URLs: cfg.URLs, Username: cfg.Username}
		if cfg.Credential != "" {
			server.Credential = cfg.Credential
		}
		out = append(out, server)
	}
	return out, nil
}

// trimmed drops blank urls. A blank credential counts as none.
func (c ICEServerConfig) trimmed() ICEServerConfig {
	urls := lo.Compact(lo.Map(c.URLs, func(u string, _ int) string { return strings.TrimSpace(u) }))
	out := ICEServerConfig{URLs: urls, Username: strings.TrimSpace(c.Username)}
	if strings.TrimSpace(c.Credential) != "" {
		out.Credential = c.Credential
	}
	return out
}

var iceSchemes = []string{"stun", "stuns", "turn", "turns"}

func iceScheme(url string) string {
	scheme, rest, ok := strings.Cut(url, ":")
	if !ok || rest == "" {
		return ""
	}
	return scheme
}

// isICEURL backs the ice_url tag.
func isICEURL(fl validator.FieldLevel) bool {
	return lo.Contains(iceSchemes, iceScheme(fl.Field().String()))
}

// turnCredentials reports a missing username or credential on servers with
// a turn or turns url. pion refuses to relay through TURN without both.
func turnCredentials(sl validator.StructLevel) {
	cfg := sl.Current().Interface().(ICEServerConfig)
	relays := lo.SomeBy(cfg.URLs, func(u string) bool {
		return strings.HasPrefix(iceScheme(u), "turn")
	})
	if !relays {
		return
	}
	if cfg.Username == "" {
		sl.ReportError(cfg.Username, "Username", "Username", "turn_credentials", "")
	}
	if cfg.Credential == "" {
		sl.ReportError(cfg.Credential, "Credential", "Credential", "turn_credentials", "")
	}
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.RegisterValidation("ice_url", isICEURL); err != nil {
		panic(err)
	}
	v.RegisterStructValidation(turnCredentials, ICEServerConfig{})
	return v
}
