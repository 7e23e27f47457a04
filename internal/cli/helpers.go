package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/thoas/go-funk"
	"sigs.k8s.io/yaml"
)

const (
	jsonFormat = "json"
	yamlFormat = "yaml"
)

var (
	legalOutputTypes = []string{jsonFormat, yamlFormat}
)

func validateOutput(output string) error {
	if len(output) > 0 && !funk.Contains(legalOutputTypes, output) {
		return fmt.Errorf("output format must be one of %s", strings.Join(legalOutputTypes, ", "))
	}
	return nil
}

// printStructured writes v in the requested format. It reports false when the
// format asks for a table instead.
func printStructured(w io.Writer, v any, output string) (bool, error) {
	var (
		marshalled []byte
		err        error
	)
	switch output {
	case jsonFormat:
		marshalled, err = json.Marshal(v)
	case yamlFormat:
		marshalled, err = yaml.Marshal(v)
	default:
		return false, nil
	}
	if err != nil {
		return true, fmt.Errorf("marshalling output: %w", err)
	}
	_, err = fmt.Fprintf(w, "%s\n", strings.TrimSpace(string(marshalled)))
	return true, err
}
