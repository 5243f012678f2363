package service

import (
	"strings"

	"github.com/unclebandit/campaign-dispatch/internal/model"
)

// RenderTemplate substitutes {key} placeholders with the recipient's params.
// The real templating engine lives upstream; rows reach the pipeline with
// their params already validated.
func RenderTemplate(template string, params model.Params) string {
	result := template
	for k, v := range params {
		if v == "" {
			v = "N/A"
		}
		result = strings.ReplaceAll(result, "{"+k+"}", v)
	}
	return result
}
