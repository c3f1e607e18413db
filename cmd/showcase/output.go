package main

import (
	"fmt"
	"io"
	"slices"

	"github.com/fxamacker/cbor/v2"
	"gopkg.in/yaml.v3"
)

var outputFormats = []string{"text", "yaml", "cbor"}

func checkOutput(format string) error {
	if !slices.Contains(outputFormats, format) {
		return fmt.Errorf("unknown output format %q, want one of %v", format, outputFormats)
	}
	return nil
}

// writeOutput encodes v as yaml or cbor, and calls text for anything else.
func writeOutput(w io.Writer, format string, v any, text func() error) error {
	switch format {
	case "yaml":
		return writeYAML(w, v)
	case "cbor":
		return writeCBOR(w, v)
	default:
		return text()
	}
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

// cborMode encodes deterministically; types with MarshalText, such as
// ingest.Format, become text strings.
var cborMode = func() cbor.EncMode {
	opts := cbor.CoreDetEncOptions()
	opts.TextMarshaler = cbor.TextMarshalerTextString
	mode, err := opts.EncMode()
	if err != nil {
		panic("showcase: cbor encoder: " + err.Error())
	}
	return mode
}()

func writeCBOR(w io.Writer, v any) error {
	return cborMode.NewEncoder(w).Encode(v)
}
