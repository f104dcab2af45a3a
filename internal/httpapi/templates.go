package httpapi

import _ "embed"

//go:embed templates/form.tmpl
var formTemplateHTML string
