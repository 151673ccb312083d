package api

import (
	"net/http"
	"strings"
)

// headerAdminSecret carries the shared admin secret.
const headerAdminSecret = "X-Admin-Secret"

// tokenRequest is the body of POST /auth/token.
type tokenRequest struct {
	Secret string `json:"secret"`
}

// tokenResponse follows the OAuth2 token response shape.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// handleIssueToken exchanges the admin secret for a bearer token.
func (s *Server) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Secret == "" {
		writeBadRequest(w, "secret is required")
		return
	}

	token, err := s.admin.IssueToken(req.Secret)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int(s.admin.TokenTTL().Seconds()),
	})
}

// adminAuthMiddleware rejects requests without a valid admin secret or token.
func (s *Server) adminAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := s.authorizeAdmin(r, ""); err != nil {
			writeUnauthorized(w, "admin authorisation required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// authorizeAdmin tries, in order, the X-Admin-Secret header, a bearer token
// and fallbackToken. With no credentials at all it defers to the admin
// query, which passes only when no secret is required.
func (s *Server) authorizeAdmin(r *http.Request, fallbackToken string) error {
	switch {
	case r.Header.Get(headerAdminSecret) != "":
		return s.admin.Authorize(r.Header.Get(headerAdminSecret))
	case bearerToken(r) != "":
		return s.admin.AuthorizeToken(bearerToken(r))
	case fallbackToken != "":
		return s.admin.AuthorizeToken(fallbackToken)
	default:
		return s.admin.Authorize("")
	}
}

// bearerToken extracts the token from "Authorization: Bearer <token>".
// The scheme is matched case-insensitively.
func bearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
