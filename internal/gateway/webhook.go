package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/flemzord/baton/internal/run"
	"github.com/flemzord/baton/internal/security"
)

// handleTriggerWebhook fires a job from an external system such as CI.
// The caller signs the raw request body with the shared secret; a valid
// signature is the only authentication. The run is started asynchronously
// and its id returned, so slow jobs never hold the webhook open.
func (g *Gateway) handleTriggerWebhook() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if g.limiter != nil {
			if err := g.limiter.Allow(rateKey("webhook", r)); err != nil {
				g.auditDenied(r, "", "rate limited")
				http.Error(w, "too many requests", http.StatusTooManyRequests)
				return
			}
		}

		job := chi.URLParam(r, "job")
		if job == "" {
			http.Error(w, "missing job", http.StatusBadRequest)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "failed to read body", http.StatusBadRequest)
			return
		}

		sig := r.Header.Get("X-Signature-256")
		if !validateHMAC(body, sig, g.cfg.WebhookSecret) {
			g.auditDenied(r, job, "invalid webhook signature")
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}

		g.startRun(w, r, job, run.ReasonWebhook)
	}
}

// auditDenied records a rejected trigger attempt.
func (g *Gateway) auditDenied(r *http.Request, job, detail string) {
	if g.audit == nil {
		return
	}
	g.audit.Log(security.AuditEvent{
		Type:   security.EventTriggerDenied,
		Job:    job,
		Detail: detail,
		Remote: r.RemoteAddr,
	})
}

// validateHMAC checks HMAC-SHA256 signature in constant time.
func validateHMAC(body []byte, signature, secret string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}
