// Package views renders the HTML pages of the import service.
package views

import (
	"context"
	"io"

	"github.com/a-h/templ"
)

const pageStyle = `body{font-family:system-ui,sans-serif;margin:2rem auto;max-width:48rem;color:#1f2937}
h1{font-size:1.4rem}table{border-collapse:collapse;width:100%}
td,th{border-bottom:1px solid #e5e7eb;padding:.35rem .5rem;text-align:left}
.bar{background:#e5e7eb;border-radius:4px;height:.75rem;overflow:hidden}
.bar span{background:#2563eb;display:block;height:100%}
.state-COMPLETED{color:#15803d}.state-FAILED{color:#b91c1c}.state-PROCESSING{color:#2563eb}
.alert{background:#fef2f2;border:1px solid #fecaca;padding:1rem;border-radius:4px}
.muted{color:#6b7280;font-size:.9rem}`

// page wraps body in the shared document shell. refresh > 0 adds a meta
// refresh every refresh seconds.
func page(title string, refresh int, body templ.Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if _, err := io.WriteString(w, "<!DOCTYPE html><html lang=\"en\"><head><meta charset=\"utf-8\">"); err != nil {
			return err
		}
		if refresh > 0 {
			if _, err := io.WriteString(w, `<meta http-equiv="refresh" content="`+itoa(refresh)+`">`); err != nil {
				return err
			}
		}
		if _, err := io.WriteString(w, "<title>"+templ.EscapeString(title)+"</title><style>"+pageStyle+"</style></head><body>"); err != nil {
			return err
		}
		if err := body.Render(ctx, w); err != nil {
			return err
		}
		_, err := io.WriteString(w, "</body></html>")
		return err
	})
}

// ErrorPage renders a user-facing error with its support code.
func ErrorPage(message, action, code string) templ.Component {
	body := templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		html := `<h1>Import status</h1><div class="alert"><p>` + templ.EscapeString(message) + `</p>`
		if action != "" {
			html += `<p>` + templ.EscapeString(action) + `</p>`
		}
		if code != "" {
			html += `<p class="muted">Code: ` + templ.EscapeString(code) + `</p>`
		}
		html += `</div>`
		_, err := io.WriteString(w, html)
		return err
	})
	return page("Import status", 0, body)
}
