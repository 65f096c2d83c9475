// internal/service/template_service.go
package service

import (
	"bytes"
	"encoding/json"
	"fmt"
	htmltemplate "html/template"
	"sort"
	"strconv"
	texttemplate "text/template"

	appErrors "github.com/unclebandit/pricewatch-mailer/internal/errors"
	"github.com/unclebandit/pricewatch-mailer/internal/model"
)

const (
	TemplatePriceDrop          = "price_drop"
	TemplateTargetPriceReached = "target_price_reached"
	TemplateBackInStock        = "back_in_stock"
	TemplateWelcome            = "welcome"
	TemplateWeeklyDigest       = "weekly_digest"
)

type templateSource struct {
	subject  string
	body     string
	required []string
}

var builtinTemplates = map[string]templateSource{
	TemplatePriceDrop: {
		subject:  `Price drop: {{.product_name}} is now {{money .new_price}}`,
		required: []string{"product_name", "new_price", "product_url"},
		body: `<p>Hi {{or .user_name "there"}},</p>
<p>Good news! <strong>{{.product_name}}</strong> dropped from {{money .old_price}} to <strong>{{money .new_price}}</strong>.</p>
<p><a href="{{.product_url}}">View product</a></p>`,
	},
	TemplateTargetPriceReached: {
		subject:  `Target reached: {{.product_name}} hit {{money .target_price}}`,
		required: []string{"product_name", "target_price", "new_price", "product_url"},
		body: `<p>Hi {{or .user_name "there"}},</p>
<p><strong>{{.product_name}}</strong> is now {{money .new_price}}, at or below your target of {{money .target_price}}.</p>
<p><a href="{{.product_url}}">Buy now</a></p>`,
	},
	TemplateBackInStock: {
		subject:  `{{.product_name}} is back in stock`,
		required: []string{"product_name", "product_url"},
		body: `<p>Hi {{or .user_name "there"}},</p>
<p><strong>{{.product_name}}</strong> is available again{{with .new_price}} for {{money .}}{{end}}.</p>
<p><a href="{{.product_url}}">View product</a></p>`,
	},
	TemplateWelcome: {
		subject: `Welcome to PriceWatch{{with .user_name}}, {{.}}{{end}}`,
		body: `<p>Hi {{or .user_name "there"}},</p>
<p>Thanks for signing up. Add a product to your watchlist and we will email you when its price drops.</p>`,
	},
	TemplateWeeklyDigest: {
		subject:  `Your weekly PriceWatch digest`,
		required: []string{"items"},
		body: `<p>Hi {{or .user_name "there"}}, here is what changed this week:</p>
<ul>
{{range .items}}<li><a href="{{.product_url}}">{{.product_name}}</a>: {{money .new_price}}</li>
{{else}}<li>No price changes on your watchlist.</li>
{{end}}</ul>`,
	},
}

type compiledTemplate struct {
	subject  *texttemplate.Template
	body     *htmltemplate.Template
	required []string
}

// TemplateRenderer turns a template id and data into a subject and HTML body.
// It has no side effects.
type TemplateRenderer struct {
	templates map[string]compiledTemplate
}

func NewTemplateRenderer() *TemplateRenderer {
	r := &TemplateRenderer{templates: make(map[string]compiledTemplate, len(builtinTemplates))}
	for id, src := range builtinTemplates {
		r.templates[id] = compiledTemplate{
			subject:  texttemplate.Must(texttemplate.New(id + ".subject").Option("missingkey=zero").Funcs(texttemplate.FuncMap{"money": money}).Parse(src.subject)),
			body:     htmltemplate.Must(htmltemplate.New(id + ".body").Option("missingkey=zero").Funcs(htmltemplate.FuncMap{"money": money}).Parse(src.body)),
			required: src.required,
		}
	}
	return r
}

// TemplateIDs returns the registered template ids in sorted order.
func (r *TemplateRenderer) TemplateIDs() []string {
	ids := make([]string, 0, len(r.templates))
	for id := range r.templates {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *TemplateRenderer) Render(templateID string, data map[string]any) (model.RenderedEmail, error) {
	tmpl, ok := r.templates[templateID]
	if !ok {
		return model.RenderedEmail{}, appErrors.NewUnknownTemplate(templateID)
	}
	if data == nil {
		data = map[string]any{}
	}
	for _, field := range tmpl.required {
		if v, ok := data[field]; !ok || v == nil || v == "" {
			return model.RenderedEmail{}, fmt.Errorf("%w: %s requires %q", appErrors.ErrMissingTemplateData, templateID, field)
		}
	}

	var subject bytes.Buffer
	if err := tmpl.subject.Execute(&subject, data); err != nil {
		return model.RenderedEmail{}, fmt.Errorf("render %s subject: %w", templateID, err)
	}
	var body bytes.Buffer
	if err := tmpl.body.Execute(&body, data); err != nil {
		return model.RenderedEmail{}, fmt.Errorf("render %s body: %w", templateID, err)
	}

	return model.RenderedEmail{
		TemplateID: templateID,
		Subject:    subject.String(),
		HTML:       body.String(),
	}, nil
}

// money formats a price for display. Values come from decoded JSON, so
// numbers may arrive as float64, json.Number or strings.
func money(v any) string {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return n.String()
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return n
		}
		f = parsed
	case nil:
		return "-"
	default:
		return fmt.Sprint(v)
	}
	return "$" + strconv.FormatFloat(f, 'f', 2, 64)
}
