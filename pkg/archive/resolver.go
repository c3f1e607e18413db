package archive

import (
	"fmt"
	"path"
	"strings"

	"github.com/taigrr/showcase/pkg/resource"
)

// imageExts widens the texture classes for fallback purposes to the image
// types a manifest may name even though archives are not classified by them.
var imageExts = map[string]bool{"gif": true, "bmp": true, "tga": true}

// Resolver maps references found in a manifest to locators the registry
// can fetch. It only reads the package it was built over.
type Resolver struct {
	pkg *Package
}

// NewResolver returns a resolver over pkg. A nil package resolves nothing
// from the table, which is what a single-file .gltf gets.
func NewResolver(pkg *Package) *Resolver {
	return &Resolver{pkg: pkg}
}

// Resolve returns the locator for ref.
func (r *Resolver) Resolve(ref string) (string, error) {
	if resource.IsHandleURL(ref) || resource.IsDataURI(ref) {
		return ref, nil
	}

	key := ref
	if strings.HasPrefix(ref, resource.Scheme) && strings.Contains(strings.TrimPrefix(ref, resource.Scheme), "/") {
		// A relative path appended to a handle URL by a loader that
		// treated the manifest's URL as a base.
		key = ref[strings.LastIndex(ref, "/")+1:]
	}

	if h, ok := r.lookup(key); ok {
		return h.URL, nil
	}

	switch ext := extOf(key); {
	case IsTextureExt(ext) || imageExts[ext]:
		return resource.TransparentPixel, nil
	case ext == "bin":
		return "", fmt.Errorf("%w: %s", ErrMissingBuffer, key)
	}
	return ref, nil
}

func (r *Resolver) lookup(key string) (*resource.Handle, bool) {
	if r.pkg == nil {
		return nil, false
	}
	if h, ok := r.pkg.Lookup(key); ok {
		return h, true
	}
	if h, ok := r.pkg.Lookup(path.Base(key)); ok {
		return h, true
	}
	if norm := strings.ReplaceAll(key, `\`, "/"); norm != key {
		if h, ok := r.pkg.Lookup(norm); ok {
			return h, true
		}
		if h, ok := r.pkg.Lookup(path.Base(norm)); ok {
			return h, true
		}
	}
	return nil, false
}
