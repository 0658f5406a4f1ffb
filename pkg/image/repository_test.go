package image

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arpa-simc/monci/pkg/distro"
)

// recordingStore is a Store fake that reports a fixed set of images and
// returns pre-seeded *Image values from Image, recording HasImage calls.
type recordingStore struct {
	images map[string]*Image
}

func (s *recordingStore) ListImages() ([]string, error) {
	var out []string
	for name := range s.images {
		out = append(out, name)
	}
	return out, nil
}
func (s *recordingStore) HasImage(name string) bool { _, ok := s.images[name]; return ok }
func (s *recordingStore) Image(ctx context.Context, name string) (*Image, error) {
	return s.images[name], nil
}
func (s *recordingStore) BootstrapNew(ctx context.Context, name string, cfg BootstrappableConfig) (*Image, error) {
	img := &Image{Name: name, store: s, Bootstrappable: &cfg, Runnable: &Runnable{Handle: "/fake/" + name}}
	s.images[name] = img
	return img, nil
}
func (s *recordingStore) BootstrapExtend(ctx context.Context, name string, cfg BootstrappableConfig, parent *Image) (*Image, error) {
	img := &Image{Name: name, store: s, Bootstrappable: &cfg, Runnable: &Runnable{Handle: "/fake/" + name}}
	s.images[name] = img
	return img, nil
}
func (s *recordingStore) Update(ctx context.Context, img *Image) error { return nil }
func (s *recordingStore) Remove(ctx context.Context, img *Image) error { return nil }
func (s *recordingStore) Deduplicate(ctx context.Context) (DedupStats, error) {
	return DedupStats{}, nil
}

func TestImageRepositoryCatalogLayerProvidesBootstrappable(t *testing.T) {
	cat := distro.NewCatalog()
	d := &distro.Distro{Family: distro.Debian, Version: "12", FullName: "debian:12", Aliases: []string{"bookworm"}}
	cat.Add(d)

	repo := NewImageRepository(cat, nil)
	img, err := repo.Image(context.Background(), "bookworm")
	require.NoError(t, err)
	require.NotNil(t, img.Bootstrappable)
	assert.Same(t, d, img.Bootstrappable.Distro)
	assert.False(t, img.IsRunnable())
}

func TestImageRepositoryLaterStoreOverridesEarlier(t *testing.T) {
	cat := distro.NewCatalog()
	early := &recordingStore{images: map[string]*Image{
		"work": {Name: "work", Runnable: &Runnable{Handle: "/early/work"}},
	}}
	late := &recordingStore{images: map[string]*Image{
		"work": {Name: "work", Runnable: &Runnable{Handle: "/late/work"}},
	}}

	repo := NewImageRepository(cat, nil, early, late)
	img, err := repo.Image(context.Background(), "work")
	require.NoError(t, err)
	assert.Equal(t, "/late/work", img.Runnable.Handle)
}

func TestImageRepositoryRunnableAbsorbsEarlierBootstrappable(t *testing.T) {
	cat := distro.NewCatalog()
	cfg := &BootstrappableConfig{Packages: []string{"gcc"}}
	configured := map[string]*BootstrappableConfig{"work": cfg}

	store := &recordingStore{images: map[string]*Image{
		"work": {Name: "work", Runnable: &Runnable{Handle: "/disk/work"}},
	}}

	repo := NewImageRepository(cat, configured, store)
	img, err := repo.Image(context.Background(), "work")
	require.NoError(t, err)
	require.NotNil(t, img.Runnable)
	require.NotNil(t, img.Bootstrappable)
	assert.Same(t, cfg, img.Bootstrappable)
	assert.Equal(t, "/disk/work", img.Runnable.Handle)
}

func TestImageRepositoryBootstrapDispatchesToLastStore(t *testing.T) {
	cat := distro.NewCatalog()
	d := &distro.Distro{Family: distro.Debian, Version: "12", FullName: "debian:12"}
	cfg := &BootstrappableConfig{Distro: d, Packages: []string{"gcc"}}
	configured := map[string]*BootstrappableConfig{"work": cfg}

	store := &recordingStore{images: map[string]*Image{}}
	repo := NewImageRepository(cat, configured, store)

	img, err := repo.Bootstrap(context.Background(), "work")
	require.NoError(t, err)
	assert.Equal(t, "/fake/work", img.Runnable.Handle)
	assert.True(t, store.HasImage("work"))
}
