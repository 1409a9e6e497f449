package middleware

import (
	"context"
	"net/http"

	"github.com/soaringjerry/Malasakit/internal/utils"
)

type localeKey struct{}

// LocaleMiddleware picks the response language from ?lang= or Accept-Language,
// echoes it in Content-Language and stores it in the request context.
func LocaleMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		locale := utils.DetermineLocale(r.URL.Query().Get("lang"), r.Header.Get("Accept-Language"), utils.Languages, utils.LangEnglish)
		w.Header().Set("Content-Language", locale)
		w.Header().Add("Vary", "Accept-Language")
		next.ServeHTTP(w, r.WithContext(WithLocale(r.Context(), locale)))
	})
}

// WithLocale returns ctx carrying locale.
func WithLocale(ctx context.Context, locale string) context.Context {
	return context.WithValue(ctx, localeKey{}, locale)
}

// LocaleFromContext returns the locale set by LocaleMiddleware, English when unset.
func LocaleFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(localeKey{}).(string); ok && s != "" {
		return s
	}
	return utils.LangEnglish
}
