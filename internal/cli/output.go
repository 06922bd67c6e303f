package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

const (
	formatJSON = "json"
	formatYAML = "yaml"
)

// render writes v as indented JSON or as YAML. YAML goes through a JSON round trip
// so both formats use the same field names.
func render(w io.Writer, format string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	switch format {
	case formatJSON:
		_, err = fmt.Fprintln(w, string(b))
		return err
	case formatYAML:
		var generic any
		if err := json.Unmarshal(b, &generic); err != nil {
			return fmt.Errorf("encode output: %w", err)
		}
		out, err := yaml.Marshal(generic)
		if err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		_, err = w.Write(out)
		return err
	}
	return fmt.Errorf("unsupported output format %q", format)
}
