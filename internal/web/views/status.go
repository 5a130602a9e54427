package views

import (
	"context"
	"io"
	"strconv"
	"strings"

	"github.com/a-h/templ"

	"github.com/JonMunkholm/itassets/internal/core"
)

// RefreshSeconds is how often the status page reloads while a task runs.
const RefreshSeconds = 2

// maxListedErrors caps the row errors shown on the page.
const maxListedErrors = 50

// ImportStatusPage renders the progress of one import task.
func ImportStatusPage(p core.ImportProgress) templ.Component {
	refresh := 0
	if p.State == core.StateProcessing {
		refresh = RefreshSeconds
	}
	return page("Import "+p.TaskID, refresh, importStatus(p))
}

func importStatus(p core.ImportProgress) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		var b strings.Builder

		b.WriteString(`<h1>Import <code>` + templ.EscapeString(p.TaskID) + `</code></h1>`)
		b.WriteString(`<p class="state-` + templ.EscapeString(string(p.State)) + `"><strong>` +
			templ.EscapeString(string(p.State)) + `</strong> ` + itoa(p.Percent()) + `%</p>`)
		b.WriteString(`<div class="bar"><span style="width:` + itoa(p.Percent()) + `%"></span></div>`)

		b.WriteString(`<table><tbody>`)
		row(&b, "Batch", p.BatchID)
		row(&b, "Total rows", itoa(p.TotalRows))
		row(&b, "Processed", itoa(p.ProcessedRows))
		row(&b, "Succeeded", itoa(p.SuccessRows))
		row(&b, "Failed", itoa(p.FailedRows))
		row(&b, "Started", p.StartedAt.Format("2006-01-02 15:04:05"))
		if p.FinishedAt != nil {
			row(&b, "Finished", p.FinishedAt.Format("2006-01-02 15:04:05"))
		}
		b.WriteString(`</tbody></table>`)

		if p.Error != "" {
			b.WriteString(`<div class="alert"><p>` + templ.EscapeString(p.Error) + `</p></div>`)
		}

		if len(p.Errors) > 0 {
			b.WriteString(`<h2>Row errors</h2><ul>`)
			for i, msg := range p.Errors {
				if i == maxListedErrors {
					b.WriteString(`<li class="muted">` + itoa(len(p.Errors)-maxListedErrors) + ` more</li>`)
					break
				}
				b.WriteString(`<li>` + templ.EscapeString(msg) + `</li>`)
			}
			b.WriteString(`</ul>`)
		}

		if p.State.Terminal() && p.BatchID != "" {
			b.WriteString(`<p class="muted">Result: <a href="/api/import/result/` +
				templ.EscapeString(p.BatchID) + `">/api/import/result/` + templ.EscapeString(p.BatchID) + `</a></p>`)
		}

		_, err := io.WriteString(w, b.String())
		return err
	})
}

func row(b *strings.Builder, label, value string) {
	b.WriteString(`<tr><th>` + templ.EscapeString(label) + `</th><td>` + templ.EscapeString(value) + `</td></tr>`)
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
