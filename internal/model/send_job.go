package model

// SendJob is the queued request to render a template and send it.
type SendJob struct {
	TemplateID string         `json:"template_id"`
	To         string         `json:"to"`
	Data       map[string]any `json:"data,omitempty"`
}

// RenderedEmail is the output of the template renderer.
type RenderedEmail struct {
	TemplateID string `json:"template_id"`
	Subject    string `json:"subject"`
	HTML       string `json:"html"`
}
