// Package identity generates and validates the IDs handed out to clients.
package identity

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var sessionIDPattern = regexp.MustCompile(`^sess_[0-9]{1,20}_[a-f0-9]{12}$`)

// now is replaced in tests.
var now = time.Now

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// NewSessionID returns "sess_<unix millis>_<12 hex>". The random suffix keeps
// IDs unique when many sessions start in the same millisecond.
func NewSessionID() (string, error) {
	suffix, err := randomHex(6)
	if err != nil {
		return "", fmt.Errorf("generate session id: %w", err)
	}
	return "sess_" + strconv.FormatInt(now().UnixMilli(), 10) + "_" + suffix, nil
}

// NewConnID returns an ID for one control connection.
func NewConnID() (string, error) {
	suffix, err := randomHex(8)
	if err != nil {
		return "", fmt.Errorf("generate connection id: %w", err)
	}
	return "conn_" + suffix, nil
}

// ValidSessionID reports whether id has the shape NewSessionID produces.
func ValidSessionID(id string) bool {
	return sessionIDPattern.MatchString(strings.TrimSpace(id))
}

// IPFromRequest returns a normalized remote IP for optional request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
