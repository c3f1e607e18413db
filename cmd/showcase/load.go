package main

import (
	"context"
	"errors"

	"github.com/taigrr/showcase/pkg/ingest"
	"github.com/taigrr/showcase/pkg/models"
	"github.com/taigrr/showcase/pkg/resource"
)

func (a *app) newSession() *ingest.Session {
	return ingest.NewSession(resource.NewRegistry(), a.cfg.SessionConfig(a.logger))
}

// loadFile reads path and loads it through sess. Errors from the loader
// itself still leave a placeholder model attached; the returned model is
// that placeholder.
func (a *app) loadFile(ctx context.Context, sess *ingest.Session, path string, cb ingest.Callbacks) (*ingest.Model, error) {
	src, err := ingest.ReadSource(path, a.cfg.Ingest.MaxFileSize)
	if err != nil {
		var lerr *ingest.Error
		if errors.As(err, &lerr) && cb.OnError != nil {
			cb.OnError(lerr)
		}
		return nil, err
	}
	return sess.Load(ctx, src, cb)
}

// presetMaterial builds the material for a preset, taking color and the
// standard preset's metalness and roughness from the configured defaults.
func presetMaterial(o models.Override, defaults models.Material) models.Material {
	o.Color = defaults.BaseColor
	if o.Shading == models.ShadingStandard && !o.Wireframe {
		o.Metalness = defaults.Metallic
		o.Roughness = defaults.Roughness
	}
	return o.Material()
}
