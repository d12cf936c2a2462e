package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/greenworks/execdash/internal/connector"
)

func BearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			const prefix = "Bearer "
			if token == "" || !strings.HasPrefix(auth, prefix) || subtle.ConstantTimeCompare([]byte(auth[len(prefix):]), []byte(token)) != 1 {
				httpError(w, http.StatusUnauthorized, "authentication_error", "invalid or missing bearer token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// webhookTokenHeaders lists, per source, the headers a webhook token may
// arrive in besides the ?token= query parameter.
var webhookTokenHeaders = map[connector.Source][]string{
	connector.SourceCalls:       {"X-Calls-Token", "X-Aircall-Token"},
	connector.SourceLeads:       {"X-Leads-Token", "X-WhatConverts-Token"},
	connector.SourceInspections: {"X-Inspections-Token", "X-ISN-Token"},
}

func webhookToken(r *http.Request, src connector.Source) string {
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	for _, h := range webhookTokenHeaders[src] {
		if t := r.Header.Get(h); t != "" {
			return t
		}
	}
	return ""
}
