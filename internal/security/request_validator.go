package security

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// JSONSchemaValidator rejects a request before its handler runs when
// the body does not match the operation's schema. The name appears in
// the error detail so an operator can tell which body failed without
// reading server logs.
type JSONSchemaValidator struct {
	name   string
	schema *jsonschema.Schema
}

func NewJSONSchemaValidator(name, schemaJSON string) (*JSONSchemaValidator, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name+".json", strings.NewReader(schemaJSON)); err != nil {
		return nil, err
	}
	schema, err := compiler.Compile(name + ".json")
	if err != nil {
		return nil, err
	}
	return &JSONSchemaValidator{name: name, schema: schema}, nil
}

func (v *JSONSchemaValidator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				WriteJSONError(w, r, http.StatusRequestEntityTooLarge, "payload_too_large")
				return
			}
			WriteJSONError(w, r, http.StatusBadRequest, "invalid_request")
			return
		}
		_ = r.Body.Close()

		var payload interface{}
		dec := json.NewDecoder(bytes.NewReader(body))
		dec.UseNumber()
		if err := dec.Decode(&payload); err != nil {
			WriteJSONErrorDetail(w, r, http.StatusBadRequest, "invalid_json",
				v.name+" body is not valid JSON")
			return
		}

		if err := v.schema.Validate(payload); err != nil {
			WriteJSONErrorDetail(w, r, http.StatusBadRequest, "validation_error", v.detail(err))
			return
		}

		r.Body = io.NopCloser(bytes.NewReader(body))
		next.ServeHTTP(w, r)
	})
}

// detail walks to the innermost validation cause so the response
// names the offending field instead of the schema root.
func (v *JSONSchemaValidator) detail(err error) string {
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return v.name + " body failed validation"
	}
	leaf := verr
	for len(leaf.Causes) > 0 {
		leaf = leaf.Causes[0]
	}
	loc := strings.TrimPrefix(leaf.InstanceLocation, "/")
	if loc == "" {
		loc = "body"
	}
	return v.name + " " + loc + ": " + leaf.Message
}
