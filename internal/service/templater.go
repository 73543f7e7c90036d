package service

import (
	"strings"

	"github.com/mirado/sms-dispatch/internal/domain"
)

// placeholderValues maps the closed set of template placeholders to their
// per-recipient values. Unknown placeholders are left as-is so a typo in a
// message is visible instead of silently swallowed.
func placeholderValues(f domain.TemplateFields) map[string]string {
	return map[string]string{
		"{parentName}":       f.ParentName,
		"{parentPhone}":      f.ParentPhone,
		"{studentFirstName}": f.StudentFirstName,
		"{studentLastName}":  f.StudentLastName,
		"{studentFullName}":  strings.TrimSpace(f.StudentFirstName + " " + f.StudentLastName),
		"{matricule}":        f.Matricule,
		"{classe}":           f.Classe,
		"{niveau}":           f.Niveau,
		"{status}":           f.Status,
	}
}

// RenderMessage substitutes the recipient's fields into a message template.
func RenderMessage(template string, fields domain.TemplateFields) string {
	rendered := template
	for placeholder, value := range placeholderValues(fields) {
		rendered = strings.ReplaceAll(rendered, placeholder, value)
	}
	return rendered
}
