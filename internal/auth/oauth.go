// oauth.go -- OAuth start and callback handlers.
// The state machine lives in internal/flow; these handlers only translate HTTP.
package auth

import (
	"encoding/json"
	"errors"
	"mime"
	"net/http"

	"github.com/franklink/linkd/internal/flow"
	"github.com/franklink/linkd/internal/store"
	"github.com/gofrs/uuid/v5"
)

// maxCallbackBody caps POST callback bodies.
const maxCallbackBody = 16 << 10

// callbackBody mirrors the provider's callback fields for the POST alias.
type callbackBody struct {
	Code             string `json:"code"`
	State            string `json:"state"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// OAuthStart handles GET /oauth/google/start?user_id= -- records a new flow for the
// user and returns the provider authorization URL (or redirects with redirect=true).
func (h *AuthHandler) OAuthStart(w http.ResponseWriter, r *http.Request) {
	if h.Flow == nil {
		ServiceUnavailable(w, "oauth is not configured")
		return
	}

	raw := r.URL.Query().Get("user_id")
	if raw == "" {
		BadRequest(w, "missing user_id")
		return
	}
	userID, err := uuid.FromString(raw)
	if err != nil {
		BadRequest(w, "invalid user_id")
		return
	}

	if err := h.RL.Allow(r.Context(), "oauth_start:"+userID.String(), h.StartLimit); err != nil {
		if errors.Is(err, store.ErrRateLimitExceeded) {
			logWarn(r, "oauth start rate limited", "user_id", userID)
			TooManyRequests(w)
			return
		}
		// Redis down: fail open, the flow itself has no abuse amplification.
		logWarn(r, "oauth start: rate limiter unavailable", "error", err)
	}

	res, err := h.Flow.Start(r.Context(), userID)
	if err != nil {
		FlowFailure(w, r, err)
		return
	}

	if r.URL.Query().Get("redirect") == "true" {
		http.Redirect(w, r, res.AuthorizationURL, http.StatusFound)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		AuthorizationURL string `json:"authorization_url"`
		UserID           string `json:"user_id"`
	}{res.AuthorizationURL, res.UserID.String()})
}

// OAuthCallback handles GET /oauth/google/callback -- the provider's redirect target.
func (h *AuthHandler) OAuthCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	h.completeCallback(w, r, flow.CallbackParams{
		Code:             q.Get("code"),
		State:            q.Get("state"),
		Error:            q.Get("error"),
		ErrorDescription: q.Get("error_description"),
	})
}

// OAuthCallbackPost handles POST /oauth/google/callback -- same fields as the GET,
// in a JSON or form-encoded body.
func (h *AuthHandler) OAuthCallbackPost(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxCallbackBody)

	var body callbackBody
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			logWarn(r, "failed to decode callback body", "error", err)
			BadRequest(w, "error decoding request body")
			return
		}
	} else {
		if err := r.ParseForm(); err != nil {
			logWarn(r, "failed to parse callback form", "error", err)
			BadRequest(w, "error decoding request body")
			return
		}
		body = callbackBody{
			Code:             r.PostForm.Get("code"),
			State:            r.PostForm.Get("state"),
			Error:            r.PostForm.Get("error"),
			ErrorDescription: r.PostForm.Get("error_description"),
		}
	}

	h.completeCallback(w, r, flow.CallbackParams(body))
}

// completeCallback drives the flow and renders the outcome as JSON or HTML.
func (h *AuthHandler) completeCallback(w http.ResponseWriter, r *http.Request, p flow.CallbackParams) {
	logInfo(r, "oauth callback received",
		"has_code", p.Code != "", "has_state", p.State != "", "provider_error", p.Error)

	if h.Flow == nil {
		ServiceUnavailable(w, "oauth is not configured")
		return
	}

	res, err := h.Flow.Complete(r.Context(), p)
	if err != nil {
		if wantsHTML(r) {
			status, page := failurePage(err)
			if status >= http.StatusInternalServerError {
				logError(r, "oauth flow failed", "kind", flow.KindOf(err), "error", err)
			} else {
				logWarn(r, "oauth flow failed", "kind", flow.KindOf(err), "error", err)
			}
			renderResult(w, r, status, page)
			return
		}
		FlowFailure(w, r, err)
		return
	}

	logInfo(r, "oauth credential stored", "user_id", res.UserID, "state_verified", res.StateVerified)

	if wantsHTML(r) {
		renderResult(w, r, http.StatusOK, resultPage{
			Success: true,
			Title:   "You're connected",
			Message: "Frank can now help with your calendar and email.",
			Email:   res.SubjectEmail,
		})
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Success       bool     `json:"success"`
		Message       string   `json:"message"`
		UserID        string   `json:"user_id"`
		Email         string   `json:"email"`
		GrantedScopes []string `json:"granted_scopes"`
		StateVerified bool     `json:"state_verified"`
	}{
		Success:       true,
		Message:       "OAuth authorization successful",
		UserID:        res.UserID.String(),
		Email:         res.SubjectEmail,
		GrantedScopes: res.Credential.GrantedScopes,
		StateVerified: res.StateVerified,
	})
}
