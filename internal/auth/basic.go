package auth

import (
	"encoding/base64"
	"net/http"
)

// BasicScheme implements RFC 7617 HTTP Basic authentication.
type BasicScheme struct {
	Username, Password string
}

func (b *BasicScheme) Name() string { return "Basic" }

// Authorize sets the Authorization header unconditionally; Basic carries
// no server-chosen parameters to react to.
func (b *BasicScheme) Authorize(req *http.Request, _ *Challenge) error {
	token := base64.StdEncoding.EncodeToString([]byte(b.Username + ":" + b.Password))
	req.Header.Set("Authorization", "Basic "+token)
	return nil
}
