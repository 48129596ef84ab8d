package credentials

import (
	"fmt"
	"net/http"
	"net/url"
)

const (
	HeaderAuthorization = "Authorization"
	HeaderContentType   = "Content-Type"
	HeaderUsername      = "X-Username"
	HeaderProjectID     = "X-Project-Id"
)

// BuildHeaders assembles the outgoing headers for a copilot request.
//
// access_token wins over the legacy token cookie for Authorization; the legacy
// cookie still provides X-Username whenever it is present. A cookie value that
// is not valid URL encoding is an error.
func BuildHeaders(src Source) (http.Header, error) {
	h := make(http.Header)
	h.Set(HeaderContentType, "application/json")

	if raw, ok := src.Cookie(CookieAccessToken); ok {
		token, err := url.PathUnescape(raw)
		if err != nil {
			return nil, fmt.Errorf("decode %s cookie: %w", CookieAccessToken, err)
		}
		h.Set(HeaderAuthorization, "Bearer "+token)
	}

	if raw, ok := src.Cookie(CookieToken); ok {
		token, err := url.PathUnescape(raw)
		if err != nil {
			return nil, fmt.Errorf("decode %s cookie: %w", CookieToken, err)
		}
		if h.Get(HeaderAuthorization) == "" {
			h.Set(HeaderAuthorization, "Bearer "+token)
		}
		h.Set(HeaderUsername, token)
	}

	if project, ok := src.LocalItem(ProjectStorageKey); ok {
		h.Set(HeaderProjectID, project)
	}

	return h, nil
}
