package http1

import "strings"

// UpgradeKind identifies which protocol a request's Upgrade header names.
type UpgradeKind int

const (
	UpgradeNone UpgradeKind = iota
	UpgradeH2C
	UpgradeWebSocket
)

// DetectUpgrade inspects the Connection and Upgrade headers per RFC 7230
// §6.7. Connection must list "upgrade" (case-insensitive, comma
// separated) for the Upgrade header to take effect.
func DetectUpgrade(h headerGetter) UpgradeKind {
	conn, _ := h.Get("Connection")
	if !containsToken(conn, "upgrade") {
		return UpgradeNone
	}
	upgrade, ok := h.Get("Upgrade")
	if !ok {
		return UpgradeNone
	}
	switch strings.ToLower(strings.TrimSpace(upgrade)) {
	case "h2c":
		return UpgradeH2C
	case "websocket":
		return UpgradeWebSocket
	default:
		return UpgradeNone
	}
}

// headerGetter is satisfied by *headers.List; declared locally to avoid a
// direct dependency on the concrete type for this narrow lookup.
type headerGetter interface {
	Get(name string) (string, bool)
}

func containsToken(field, token string) bool {
	for _, part := range strings.Split(field, ",") {
		if strings.EqualFold(strings.TrimSpace(part), token) {
			return true
		}
	}
	return false
}
