package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/callvault/internal/domain"
	"github.com/tbourn/callvault/internal/mail"
	"github.com/tbourn/callvault/internal/repo"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// TemplateView is one email template as shown to admins: the effective
// subject/body after overrides, plus whether an override is stored.
type TemplateView struct {
	Type       domain.EmailType `json:"template_type"`
	Label      string           `json:"label"`
	Subject    string           `json:"subject"`
	Body       string           `json:"body"`
	Customized bool             `json:"customized"`
	UpdatedAt  *time.Time       `json:"updated_at,omitempty"`
}

// TemplateService manages admin overrides of the built-in email templates.
type TemplateService struct {
	DB  *gorm.DB
	Now func() time.Time
}

var titleCaser = cases.Title(language.English)

// Label turns a template type into a display name ("payment_link" → "Payment Link").
func Label(t domain.EmailType) string {
	return titleCaser.String(strings.ReplaceAll(string(t), "_", " "))
}

// Resolve returns the effective template for t.
func (s *TemplateService) Resolve(ctx context.Context, t domain.EmailType) (mail.Template, error) {
	def, ok := mail.Defaults[t]
	if !ok {
		return mail.Template{}, ErrUnknownTemplate
	}
	if s == nil || s.DB == nil {
		return def, nil
	}
	o, err := repo.GetTemplate(ctx, s.DB, string(t))
	if errors.Is(err, repo.ErrNotFound) {
		return def, nil
	}
	if err != nil {
		return def, err
	}
	return mail.Merge(def, mail.Template{Subject: o.Subject, Body: o.Body}), nil
}

// List returns every known template in display order.
func (s *TemplateService) List(ctx context.Context) ([]TemplateView, error) {
	tr := otel.Tracer("services/TemplateService")
	ctx, span := tr.Start(ctx, "List")
	defer span.End()

	overrides, err := repo.ListTemplates(ctx, s.DB)
	if err != nil {
		return nil, err
	}
	out := make([]TemplateView, 0, len(domain.EmailTypes))
	for _, t := range domain.EmailTypes {
		var o *domain.EmailTemplate
		if v, ok := overrides[string(t)]; ok {
			o = &v
		}
		out = append(out, view(t, o))
	}
	return out, nil
}

// Get returns one template.
func (s *TemplateService) Get(ctx context.Context, t domain.EmailType) (TemplateView, error) {
	if !t.Valid() {
		return TemplateView{}, ErrUnknownTemplate
	}
	o, err := repo.GetTemplate(ctx, s.DB, string(t))
	if errors.Is(err, repo.ErrNotFound) {
		return view(t, nil), nil
	}
	if err != nil {
		return TemplateView{}, err
	}
	return view(t, o), nil
}

// Update stores an override. A blank subject or body keeps the built-in
// one; both blank is rejected (use Reset). The merged template must parse.
func (s *TemplateService) Update(ctx context.Context, t domain.EmailType, subject, body string) (TemplateView, error) {
	tr := otel.Tracer("services/TemplateService")
	ctx, span := tr.Start(ctx, "Update",
		trace.WithAttributes(attribute.String("template.type", string(t))),
	)
	defer span.End()

	def, ok := mail.Defaults[t]
	if !ok {
		return TemplateView{}, ErrUnknownTemplate
	}
	subject, body = strings.TrimSpace(subject), strings.TrimSpace(body)
	if subject == "" && body == "" {
		return TemplateView{}, invalid("template", "subject or body is required")
	}
	if len(subject) > 255 {
		return TemplateView{}, invalid("subject", "must be at most 255 characters")
	}
	if err := mail.Validate(mail.Merge(def, mail.Template{Subject: subject, Body: body})); err != nil {
		return TemplateView{}, invalid("template", err.Error())
	}

	o := &domain.EmailTemplate{TemplateType: string(t), Subject: subject, Body: body}
	if err := repo.UpsertTemplate(ctx, s.DB, o, now(s.Now)); err != nil {
		return TemplateView{}, err
	}
	return view(t, o), nil
}

// Reset removes the override for t. Resetting an uncustomized template is a no-op.
func (s *TemplateService) Reset(ctx context.Context, t domain.EmailType) error {
	if !t.Valid() {
		return ErrUnknownTemplate
	}
	err := repo.DeleteTemplate(ctx, s.DB, string(t))
	if errors.Is(err, repo.ErrNotFound) {
		return nil
	}
	return err
}

func view(t domain.EmailType, o *domain.EmailTemplate) TemplateView {
	def := mail.Defaults[t]
	v := TemplateView{Type: t, Label: Label(t), Subject: def.Subject, Body: def.Body}
	if o != nil {
		eff := mail.Merge(def, mail.Template{Subject: o.Subject, Body: o.Body})
		v.Subject, v.Body, v.Customized = eff.Subject, eff.Body, true
		if !o.UpdatedAt.IsZero() {
			u := o.UpdatedAt
			v.UpdatedAt = &u
		}
	}
	return v
}
