package transport

import (
	"fmt"
	"net/url"

	"github.com/omochice/roomchat/internal/auth"
)

// BuildURL appends the identity query parameter to the socket endpoint.
// A token selects bearer mode; otherwise the display name is sent. Never both.
func BuildURL(endpoint string, cred auth.Credential, displayName string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
	}

	q := u.Query()
	q.Del("bearer")
	q.Del("name")
	if cred.HasToken() {
		q.Set("bearer", cred.Token)
	} else {
		if displayName == "" {
			displayName = cred.User.Name
		}
		q.Set("name", displayName)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
