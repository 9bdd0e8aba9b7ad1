package chat

import (
	"fmt"
	"net/url"
	"strings"
)

// FunctionURL joins a platform base URL and an edge function name into
// <base>/functions/v1/<name>. An empty base yields "" so the Session reports
// the endpoint as missing.
func FunctionURL(base, name string) (string, error) {
	base = strings.TrimSpace(base)
	if base == "" {
		return "", nil
	}
	u, err := url.JoinPath(base, "functions", "v1", name)
	if err != nil {
		return "", fmt.Errorf("building function url from %q: %w", base, err)
	}
	return u, nil
}
