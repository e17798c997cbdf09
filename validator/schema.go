package validator

import "encoding/json"

// decodeDisclosureFields decodes a disclosure payload into a flat
// field-presence map for blueprint.ValidateAction (spec §4.7 step 6).
// Disclosure bytes are produced by the blueprint-layer payload encoder
// (out of this repository's scope); an empty disclosure decodes to an
// empty field set rather than an error, since some actions declare no
// required fields.
func decodeDisclosureFields(disclosure []byte) (map[string]interface{}, error) {
	if len(disclosure) == 0 {
		return map[string]interface{}{}, nil
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(disclosure, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}
