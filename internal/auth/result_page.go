// result_page.go -- HTML result page for browser callbacks.
package auth

import (
	"bytes"
	"embed"
	"errors"
	"html/template"
	"net/http"
	"strings"

	"github.com/franklink/linkd/internal/flow"
)

//go:embed templates/result.html
var templatesFS embed.FS

var resultTemplate = template.Must(template.ParseFS(templatesFS, "templates/result.html"))

// resultPage is the template data. Only ever human-readable text.
type resultPage struct {
	Success bool
	Title   string
	Message string
	Email   string
}

// wantsHTML reports whether the client is a browser following the provider redirect.
func wantsHTML(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

// renderResult executes the template into a buffer first so a template error
// can still produce a clean 500.
func renderResult(w http.ResponseWriter, r *http.Request, status int, page resultPage) {
	var buf bytes.Buffer
	if err := resultTemplate.Execute(&buf, page); err != nil {
		InternalServerError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	w.Write(buf.Bytes())
}

// failurePage turns a flow error into page text and status.
func failurePage(err error) (int, resultPage) {
	page := resultPage{Title: "Connection failed", Message: "Something went wrong. Please try again."}
	var f *flow.Failure
	if !errors.As(err, &f) {
		return http.StatusInternalServerError, page
	}
	switch f.Kind {
	case flow.KindProviderDenied:
		page.Title = "Connection cancelled"
		page.Message = "You declined access, so nothing was connected."
	case flow.KindDomainRejected:
		page.Message = "Please sign in with your school email address."
	case flow.KindExchangeFailed, flow.KindStateMismatch:
		page.Message = "This sign-in link has expired or was already used. Please start again from Frank."
	default:
		page.Message = f.Reason + "."
	}
	return statusForKind(f.Kind), page
}
