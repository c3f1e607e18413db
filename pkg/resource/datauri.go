package resource

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// TransparentPixel is a data URI holding a 1x1 fully transparent PNG.
const TransparentPixel = "data:image/png;base64,iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAAC0lEQVR42mNgAAIAAAUAAen63NgAAAAASUVORK5CYII="

var errMalformedDataURI = errors.New("malformed data URI")

// IsDataURI reports whether s is an embedded data: reference.
func IsDataURI(s string) bool {
	return strings.HasPrefix(s, "data:")
}

// DecodeDataURI returns the payload of a data: URI.
func DecodeDataURI(s string) ([]byte, error) {
	rest, ok := strings.CutPrefix(s, "data:")
	if !ok {
		return nil, errMalformedDataURI
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, errMalformedDataURI
	}
	if strings.HasSuffix(meta, ";base64") {
		data, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil, fmt.Errorf("decode data URI: %w", err)
		}
		return data, nil
	}
	text, err := url.PathUnescape(payload)
	if err != nil {
		return nil, fmt.Errorf("decode data URI: %w", err)
	}
	return []byte(text), nil
}
