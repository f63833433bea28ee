package template

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	pkgerrors "vcbridge/pkg/domain-errors"
)

// ValidateClaims checks a claim payload against the template's JSON schema,
// when one is declared. Claims are validated as a flat string map; schema
// authors constrain formats and required keys there.
func (t *IssuanceTemplate) ValidateClaims(claims map[string]string) error {
	if t.SchemaJSON == "" {
		return nil
	}

	document := make(map[string]any, len(claims))
	for k, v := range claims {
		document[k] = v
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(t.SchemaJSON),
		gojsonschema.NewGoLoader(document),
	)
	if err != nil {
		return pkgerrors.Wrap(err, pkgerrors.CodeInternal, fmt.Sprintf("template %s schema is not loadable", t.ID))
	}
	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			details = append(details, desc.String())
		}
		return pkgerrors.New(pkgerrors.CodeValidation, "claims do not satisfy template schema: "+strings.Join(details, "; "))
	}
	return nil
}
