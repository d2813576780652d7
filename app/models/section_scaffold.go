package models

import (
	"strings"
	"text/template"
	"time"
)

var sectionScaffold = template.Must(template.New("section").Parse(`{% comment %}
  {{ .Name }}
  Category: {{ .Category }}
{{- if .Description }}
  Description: {{ .Description }}
{{- end }}
  Created: {{ .Created }}
{% endcomment %}

<div class="{{ .Slug }}-section">
  <div class="container">
    <h2>{{ "{{" }} section.settings.heading | default: '{{ .Name }}' {{ "}}" }}</h2>
    {% if section.settings.description != blank %}
      <p>{{ "{{" }} section.settings.description {{ "}}" }}</p>
    {% endif %}
  </div>
</div>

<style>
  .{{ .Slug }}-section {
    padding: 60px 0;
  }
  .{{ .Slug }}-section .container {
    max-width: 1200px;
    margin: 0 auto;
    padding: 0 20px;
  }
</style>

{% schema %}
{
  "name": {{ .NameJSON }},
  "settings": [
    {
      "type": "text",
      "id": "heading",
      "label": "Heading",
      "default": {{ .NameJSON }}
    },
    {
      "type": "textarea",
      "id": "description",
      "label": "Description"
    }
  ],
  "presets": [
    {
      "name": {{ .NameJSON }}
    }
  ]
}
{% endschema %}
`))

// DefaultSectionContent renders the starter Liquid file used when an admin
// creates a section without custom code.
func DefaultSectionContent(s *Section, now time.Time) (string, error) {
	slug := Slugify(s.Name)
	if slug == "" {
		slug = "custom"
	}
	data := struct {
		Name        string
		NameJSON    string
		Category    string
		Description string
		Slug        string
		Created     string
	}{
		Name:        s.Name,
		NameJSON:    schemaString(s.Name),
		Category:    s.Category,
		Description: strings.TrimSpace(s.Description),
		Slug:        slug,
		Created:     now.UTC().Format(time.RFC3339),
	}

	var b strings.Builder
	if err := sectionScaffold.Execute(&b, data); err != nil {
		return "", err
	}
	return b.String(), nil
}

// schemaString quotes v for the JSON inside {% schema %}.
func schemaString(v string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`, "\r", `\r`, "\t", `\t`)
	return `"` + r.Replace(v) + `"`
}
