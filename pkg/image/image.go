// Package image implements the image store and Image aggregate (spec.md
// C2/C3): bootstrapping a distro root filesystem, extending a runnable
// image with another layer, updating in place through a transactional
// workdir, removing, and describing.
//
// Grounded on the pack's distro-catalog shapes (other_examples
// schutzbot-images, osbuild-composer) for the Distro-keyed config this
// package consumes, and on the teacher's ContainerRuntime/Container split
// (pkg/container) for how bootstrap/update actually execute: an Image
// never shells out itself, it always does so through a container.Runtime
// maintenance container, the same way the teacher never talks to the
// Docker/Podman socket directly from its TUI layer.
package image

import (
	"context"
	"fmt"

	"github.com/arpa-simc/monci/pkg/distro"
	"github.com/arpa-simc/monci/pkg/script"
)

// BootstrappableConfig is the user-authored config for an image that has
// not yet been materialised into a runnable filesystem (spec.md §3
// Image, Bootstrappable state).
type BootstrappableConfig struct {
	// Distro is required when this Bootstrappable has no Parent; when
	// Parent is set, Distro is inherited unless overridden.
	Distro *distro.Distro

	// Parent names another image in the same repository this one
	// extends; empty for a from-scratch bootstrap.
	Parent string

	Packages     []string
	Maintscript  *script.Script
	ForwardUsers []string
	Backup       bool
	Compression  string
	Tmpfs        *bool
}

// Runnable is the materialised, backend-specific half of an Image (spec.md
// §3 Image, Runnable state): a filesystem path for nspawn-flavoured
// stores, an image ID for the Podman store.
type Runnable struct {
	Handle string
	Distro *distro.Distro

	// Source, when non-nil, is the Bootstrappable config that produced
	// this Runnable. Remove does not return it, and Update works from
	// Image.Bootstrappable rather than from this field.
	Source *BootstrappableConfig

	// Probe returns a host filesystem path usable for a throwaway
	// describe container, plus a cleanup to run afterward. Directory-
	// backed stores (Plain, Btrfs) hand back Handle itself with a no-op
	// cleanup; the Podman store exports its tagged image to a scratch
	// directory that cleanup then removes.
	Probe func(ctx context.Context) (path string, cleanup func(), err error)
}

// Image is one named entry in a Store: it may have a Bootstrappable
// config, a Runnable materialisation, both (a materialised image whose
// descriptor is still tracked for re-bootstrap/update), or just a
// Runnable discovered on disk with no known descriptor.
type Image struct {
	Name  string
	store Store

	Bootstrappable *BootstrappableConfig
	Runnable       *Runnable
}

// IsRunnable reports whether this Image has a materialised filesystem.
func (img *Image) IsRunnable() bool { return img.Runnable != nil }

// EffectiveDistro returns the Distro this image runs as: the Runnable's
// if materialised, else the Bootstrappable's.
func (img *Image) EffectiveDistro() *distro.Distro {
	if img.Runnable != nil {
		return img.Runnable.Distro
	}
	if img.Bootstrappable != nil {
		return img.Bootstrappable.Distro
	}
	return nil
}

// Description is the structured summary produced by Describe (spec.md
// §4.3): the chain of distros/extends from root to this image,
// aggregated forwardUsers and packages, and installed package versions
// probed from a live container.
type Description struct {
	Name     string
	Chain    []ChainEntry
	Forward  []string
	Packages []string
	Versions map[string]string // package name -> installed version
}

// ChainEntry is one link of an extends chain, root-first.
type ChainEntry struct {
	Name   string
	Distro string
}

// Update re-runs this image's maintenance pipeline in place through its
// owning store's transactional workdir (spec.md §4.2 "Update").
func (img *Image) Update(ctx context.Context) error {
	if img.store == nil {
		return fmt.Errorf("image: %q has no owning store", img.Name)
	}
	return img.store.Update(ctx, img)
}

// Remove deletes this image's materialisation from its owning store
// (spec.md §4.2 "Remove").
func (img *Image) Remove(ctx context.Context) error {
	if img.store == nil {
		return fmt.Errorf("image: %q has no owning store", img.Name)
	}
	return img.store.Remove(ctx, img)
}

// Describe builds this image's extends chain and aggregated
// forwardUsers/packages from its Bootstrappable (when known), then probes
// installed package versions from a short-lived ephemeral container
// (spec.md §4.3). Describe never mutates the image.
func (img *Image) Describe(ctx context.Context) (*Description, error) {
	d := &Description{Name: img.Name}

	var packages []string
	if img.Bootstrappable != nil && img.store != nil {
		chain, err := chainConfigs(ctx, img.store, img.Bootstrappable)
		if err != nil {
			return nil, err
		}
		for i, c := range chain {
			// chain is root-first: each link's own name is the Parent
			// of the next link, and the last link is this image.
			name := img.Name
			if i+1 < len(chain) {
				name = chain[i+1].Parent
			}
			entry := ChainEntry{Name: name}
			if c.Distro != nil {
				entry.Distro = c.Distro.String()
			}
			d.Chain = append(d.Chain, entry)
		}
		d.Forward, packages, _ = aggregateChain(chain)
		d.Packages = packages
	}

	if img.Runnable == nil {
		return d, nil
	}
	versions, err := probeVersions(ctx, img.Runnable, packages)
	if err != nil {
		return nil, err
	}
	d.Versions = versions
	return d, nil
}
