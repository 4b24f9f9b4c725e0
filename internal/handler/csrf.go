package handler

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"log/slog"
	"net/http"

	"github.com/pavelanni/surgieval/internal/model"
)

const csrfCookieName = "csrf_token"

func generateCSRFToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

func (h *Handler) cookiePath() string {
	if h.config.BasePath != "" {
		return h.config.BasePath + "/"
	}
	return "/"
}

// csrfMiddleware checks the double-submitted token on state-changing
// requests and rotates it after each accepted one. GET and HEAD keep the
// current token and only issue one when the cookie is missing.
func (h *Handler) csrfMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		safe := r.Method == http.MethodGet || r.Method == http.MethodHead
		if safe {
			if cookie, err := r.Cookie(csrfCookieName); err == nil && cookie.Value != "" {
				ctx := model.ContextWithCSRFToken(r.Context(), cookie.Value)
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}
		} else {
			cookie, err := r.Cookie(csrfCookieName)
			if err != nil || cookie.Value == "" {
				slog.Warn("CSRF cookie missing", "path", r.URL.Path)
				http.Error(w, "csrf token missing", http.StatusForbidden)
				return
			}
			formToken := r.FormValue("csrf_token")
			if formToken == "" {
				slog.Warn("CSRF form token missing", "path", r.URL.Path)
				http.Error(w, "csrf token missing", http.StatusForbidden)
				return
			}
			if len(formToken) != len(cookie.Value) || subtle.ConstantTimeCompare([]byte(formToken), []byte(cookie.Value)) != 1 {
				slog.Warn("CSRF token mismatch", "path", r.URL.Path)
				http.Error(w, "invalid csrf token", http.StatusForbidden)
				return
			}
		}

		token, err := generateCSRFToken()
		if err != nil {
			slog.Error("failed to generate CSRF token", "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		http.SetCookie(w, &http.Cookie{
			Name:     csrfCookieName,
			Value:    token,
			Path:     h.cookiePath(),
			HttpOnly: false,
			Secure:   h.config.SecureCookies,
			SameSite: http.SameSiteLaxMode,
		})
		ctx := model.ContextWithCSRFToken(r.Context(), token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
