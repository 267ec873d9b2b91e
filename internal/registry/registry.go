// Package registry maps service identifiers to their endpoint and display
// name. The mapping is fixed at construction and never mutated.
package registry

import (
	"errors"
	"fmt"

	"github.com/vbonduro/imagelab/internal/config"
	"github.com/vbonduro/imagelab/internal/domain"
)

var ErrUnknownService = errors.New("unknown service")

type Registry struct {
	services map[domain.ServiceID]domain.ServiceDescriptor
}

func New(descriptors ...domain.ServiceDescriptor) (*Registry, error) {
	r := &Registry{services: make(map[domain.ServiceID]domain.ServiceDescriptor, len(descriptors))}
	for _, d := range descriptors {
		if !d.ID.Valid() {
			return nil, fmt.Errorf("%w: %q", ErrUnknownService, d.ID)
		}
		if d.EndpointURL == "" {
			return nil, fmt.Errorf("service %s has no endpoint", d.ID)
		}
		r.services[d.ID] = d
	}
	for _, id := range domain.Services {
		if _, ok := r.services[id]; !ok {
			return nil, fmt.Errorf("service %s is not configured", id)
		}
	}
	return r, nil
}

func FromConfig(cfg *config.Config) (*Registry, error) {
	return New(
		domain.ServiceDescriptor{ID: domain.ServiceDetect, EndpointURL: cfg.DetectURL, DisplayName: cfg.DetectName},
		domain.ServiceDescriptor{ID: domain.ServiceVQA, EndpointURL: cfg.VQAURL, DisplayName: cfg.VQAName},
		domain.ServiceDescriptor{ID: domain.ServiceImgGen, EndpointURL: cfg.ImgGenURL, DisplayName: cfg.ImgGenName},
	)
}

func (r *Registry) Resolve(id domain.ServiceID) (domain.ServiceDescriptor, error) {
	d, ok := r.services[id]
	if !ok {
		return domain.ServiceDescriptor{}, fmt.Errorf("%w: %q", ErrUnknownService, id)
	}
	return d, nil
}

// MustResolve panics on an unknown id; only call it with the package
// constants from domain.
func (r *Registry) MustResolve(id domain.ServiceID) domain.ServiceDescriptor {
	d, err := r.Resolve(id)
	if err != nil {
		panic(err)
	}
	return d
}

// All returns the descriptors in display order.
func (r *Registry) All() []domain.ServiceDescriptor {
	out := make([]domain.ServiceDescriptor, 0, len(domain.Services))
	for _, id := range domain.Services {
		out = append(out, r.services[id])
	}
	return out
}
