package api

import (
	"bytes"
	"html/template"
)

// OrderPayload is the opaque upstream order body passed through intake.
// The dispatcher never interprets its fields beyond what's needed to
// pick out passthrough metadata (§3); everything else rides through to
// the templater untouched.
type OrderPayload map[string]interface{}

// Templater renders an order payload into the HTML the render broker
// submits for rasterization. The actual receipt layout, styling, and
// header/footer content are an out-of-scope external concern (spec.md
// §1); this is a minimal stand-in so the intake path has something real
// to hand the broker.
type Templater interface {
	Render(order OrderPayload) (string, error)
}

const defaultReceiptTemplate = `<!DOCTYPE html>
<html><body style="font-family: monospace; width: 384px;">
<h3>{{.customer_name}}</h3>
<p>Order {{.order_number}}</p>
<hr>
{{range .lines}}<div>{{.}}</div>{{end}}
</body></html>`

// HTMLTemplater renders receipts with html/template, escaping every
// field so upstream order data can never inject markup into the
// rendered page.
type HTMLTemplater struct {
	tmpl *template.Template
}

func NewHTMLTemplater() (*HTMLTemplater, error) {
	tmpl, err := template.New("receipt").Parse(defaultReceiptTemplate)
	if err != nil {
		return nil, err
	}
	return &HTMLTemplater{tmpl: tmpl}, nil
}

func (t *HTMLTemplater) Render(order OrderPayload) (string, error) {
	var buf bytes.Buffer
	if err := t.tmpl.Execute(&buf, order); err != nil {
		return "", err
	}
	return buf.String(), nil
}
