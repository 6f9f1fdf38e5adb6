package handler

import (
	"net/http"
	"strings"

	"github.com/go-faster/sdk/zctx"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/xenking/pickup-proximity/internal/domain/auth"
	"github.com/xenking/pickup-proximity/pkg/httpmiddleware"
)

// accessTokenParam carries the token on websocket upgrades, where browsers
// cannot set headers.
const accessTokenParam = "access_token"

// Authenticate verifies the bearer token and stores the caller's principal
// in the request context. Requests without a valid token get 401.
func (h *Handler) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			w.Header().Set("WWW-Authenticate", "Bearer")
			httpmiddleware.WriteError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		p, err := h.verifier.Verify(token)
		if err != nil {
			zctx.From(r.Context()).Debug("Token rejected", zap.Error(err))
			w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
			httpmiddleware.WriteError(w, http.StatusUnauthorized, "invalid bearer token")
			return
		}

		ctx := auth.WithPrincipal(r.Context(), p)
		ctx = zctx.With(ctx, zap.String("user_id", p.UserID), zap.String("role", string(p.Role)))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) string {
	if v := r.Header.Get("Authorization"); v != "" {
		scheme, token, ok := strings.Cut(v, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") {
			return ""
		}
		return strings.TrimSpace(token)
	}
	if websocket.IsWebSocketUpgrade(r) {
		return r.URL.Query().Get(accessTokenParam)
	}
	return ""
}

// caller returns the authenticated principal. Routes are only reachable
// through Authenticate, so a missing principal is a wiring bug.
func caller(r *http.Request) *auth.Principal {
	p, _ := auth.FromContext(r.Context())
	return p
}
