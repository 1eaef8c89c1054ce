package email

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"text/template"
	"time"
)

type AlertKind string

const (
	// AlertReconciliation means a payment cleared but no order was recorded.
	AlertReconciliation AlertKind = "reconciliation"
	// AlertStorage means an invoice status could not be persisted.
	AlertStorage AlertKind = "storage"
)

// AlertInfo is the data rendered into an operator alert.
type AlertInfo struct {
	Kind       AlertKind
	InvoiceID  string
	CustomerID string
	UserID     int64
	Amount     string
	Error      string
	OccurredAt time.Time
}

const alertText = `{{.Heading}}

Invoice:     {{.InvoiceID}}
{{- if .CustomerID}}
Customer:    {{.CustomerID}}{{end}}
{{- if .UserID}}
User:        {{.UserID}}{{end}}
{{- if .Amount}}
Amount:      {{.Amount}}{{end}}
Occurred at: {{formatTime .OccurredAt}}

Error:
{{.Error}}

{{.Action}}
`

const alertHTML = `<h2>{{.Heading}}</h2>
<table>
<tr><td>Invoice</td><td><code>{{.InvoiceID}}</code></td></tr>
{{- if .CustomerID}}
<tr><td>Customer</td><td><code>{{.CustomerID}}</code></td></tr>{{end}}
{{- if .UserID}}
<tr><td>User</td><td>{{.UserID}}</td></tr>{{end}}
{{- if .Amount}}
<tr><td>Amount</td><td>{{.Amount}}</td></tr>{{end}}
<tr><td>Occurred at</td><td>{{formatTime .OccurredAt}}</td></tr>
</table>
<pre>{{.Error}}</pre>
<p>{{.Action}}</p>
`

type alertView struct {
	AlertInfo
	Heading string
	Action  string
}

// Renderer renders operator alert emails.
type Renderer struct {
	text *template.Template
	html *htmltemplate.Template
}

func NewRenderer() (*Renderer, error) {
	formatTime := func(t time.Time) string {
		return t.UTC().Format(time.RFC3339)
	}

	text, err := template.New("alert_text").Funcs(template.FuncMap{"formatTime": formatTime}).Parse(alertText)
	if err != nil {
		return nil, fmt.Errorf("failed to parse text template: %w", err)
	}
	html, err := htmltemplate.New("alert_html").Funcs(htmltemplate.FuncMap{"formatTime": formatTime}).Parse(alertHTML)
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML template: %w", err)
	}
	return &Renderer{text: text, html: html}, nil
}

func (r *Renderer) RenderAlert(to string, info *AlertInfo) (*Email, error) {
	if info == nil {
		return nil, fmt.Errorf("alert info is required")
	}

	view := alertView{AlertInfo: *info}
	var subject string
	switch info.Kind {
	case AlertReconciliation:
		view.Heading = "Payment received without an order"
		view.Action = "The invoice is COMPLETED but the balance was not deducted. Reconcile the customer's balance and queue the order by hand."
		subject = fmt.Sprintf("[preorder] Reconciliation needed for %s", info.InvoiceID)
	case AlertStorage:
		view.Heading = "Invoice status could not be saved"
		view.Action = "Polling for this invoice stopped. Check the data store, then run a recovery scan."
		subject = fmt.Sprintf("[preorder] Storage failure for %s", info.InvoiceID)
	default:
		return nil, fmt.Errorf("unknown alert kind: %s", info.Kind)
	}

	var textBuf, htmlBuf bytes.Buffer
	if err := r.text.Execute(&textBuf, view); err != nil {
		return nil, fmt.Errorf("failed to render text template: %w", err)
	}
	if err := r.html.Execute(&htmlBuf, view); err != nil {
		return nil, fmt.Errorf("failed to render HTML template: %w", err)
	}

	return &Email{
		To:      to,
		Subject: subject,
		Text:    textBuf.String(),
		HTML:    htmlBuf.String(),
	}, nil
}
