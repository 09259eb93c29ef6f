package mail

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/tbourn/callvault/internal/config"
	"github.com/tbourn/callvault/internal/domain"
)

// Template is an unrendered subject/body pair.
type Template struct {
	Subject string
	Body    string
}

// Data is the context templates render against.
type Data struct {
	Town        config.TownConfig
	CallID      string
	CallerPhone string
	Recipient   string
	// Date is the dispatch date in the configured time zone, e.g. "January 2, 2006".
	Date string
}

// Defaults holds the built-in templates. Admin overrides replace the
// subject or body individually; blank override fields fall back here.
var Defaults = map[domain.EmailType]Template{
	domain.EmailPaymentLink: {
		Subject: "{{.Town.Name}} {{.Town.Department}} - Online Payment Link",
		Body: `Hello,

Thank you for contacting the {{.Town.Name}} {{.Town.Department}} Department.

To pay your utility bill online, please visit:
{{.Town.PaymentURL}}

Payment options:
- Credit/debit card
- E-check

You can also pay in person at Town Hall (cash, check, or money order).

Hours: {{.Town.Hours}}
Address: {{.Town.Address}}

Questions? Call {{.Town.Phone}}

{{.Town.Name}} {{.Town.Department}}
`,
	},
	domain.EmailAdjustmentForm: {
		Subject: "{{.Town.Name}} {{.Town.Department}} - Request for Adjustment Form",
		Body: `Hello,

Please find the Request for Adjustment form here:
{{.Town.AdjustFormURL}}

Complete and return to:
- Email: {{.Town.Email}}
- In person: {{.Town.Name}} Town Hall

We'll review your request within 3-5 business days.

Questions? Call {{.Town.Phone}}

{{.Town.Name}} {{.Town.Department}}
`,
	},
	domain.EmailGeneralInfo: {
		Subject: "{{.Town.Name}} {{.Town.Department}} - Contact Information",
		Body: `Hello,

Thank you for contacting the {{.Town.Name}} {{.Town.Department}} Department.

For more information, please visit our website:
{{.Town.Website}}

Contact Us:
Phone: {{.Town.Phone}}
Email: {{.Town.Email}}
Address: {{.Town.Address}}

Hours: {{.Town.Hours}}

{{.Town.Name}} {{.Town.Department}}
`,
	},
}

// Merge returns override with blank fields taken from def.
func Merge(def, override Template) Template {
	out := def
	if strings.TrimSpace(override.Subject) != "" {
		out.Subject = override.Subject
	}
	if strings.TrimSpace(override.Body) != "" {
		out.Body = override.Body
	}
	return out
}

// Validate parses both parts of t without executing them.
func Validate(t Template) error {
	if _, err := parse("subject", t.Subject); err != nil {
		return err
	}
	if _, err := parse("body", t.Body); err != nil {
		return err
	}
	return nil
}

// Render executes t against d. Unknown fields are an error so a typo in an
// admin override fails loudly instead of sending "<no value>".
func Render(t Template, d Data) (subject, body string, err error) {
	subject, err = execute("subject", t.Subject, d)
	if err != nil {
		return "", "", err
	}
	// Headers cannot carry line breaks.
	subject = strings.Join(strings.Fields(subject), " ")
	body, err = execute("body", t.Body, d)
	if err != nil {
		return "", "", err
	}
	return subject, body, nil
}

func parse(name, text string) (*template.Template, error) {
	tpl, err := template.New(name).Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse %s template: %w", name, err)
	}
	return tpl, nil
}

func execute(name, text string, d Data) (string, error) {
	tpl, err := parse(name, text)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tpl.Execute(&buf, d); err != nil {
		return "", fmt.Errorf("render %s template: %w", name, err)
	}
	return buf.String(), nil
}
