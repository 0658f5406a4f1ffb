package image

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arpa-simc/monci/pkg/distro"
	"github.com/arpa-simc/monci/pkg/script"
)

// fakeStore is a minimal Store used only to resolve Parent names for
// chainConfigs, the only Store method aggregation depends on.
type fakeStore struct {
	images map[string]*Image
}

func (f *fakeStore) ListImages() ([]string, error) { return nil, nil }
func (f *fakeStore) HasImage(name string) bool      { _, ok := f.images[name]; return ok }
func (f *fakeStore) Image(ctx context.Context, name string) (*Image, error) {
	return f.images[name], nil
}
func (f *fakeStore) BootstrapNew(ctx context.Context, name string, cfg BootstrappableConfig) (*Image, error) {
	return nil, nil
}
func (f *fakeStore) BootstrapExtend(ctx context.Context, name string, cfg BootstrappableConfig, parent *Image) (*Image, error) {
	return nil, nil
}
func (f *fakeStore) Update(ctx context.Context, img *Image) error      { return nil }
func (f *fakeStore) Remove(ctx context.Context, img *Image) error      { return nil }
func (f *fakeStore) Deduplicate(ctx context.Context) (DedupStats, error) {
	return DedupStats{}, nil
}

func TestAggregateChainDedupsPreservingFirstSeenOrder(t *testing.T) {
	root := &BootstrappableConfig{ForwardUsers: []string{"build"}, Packages: []string{"gcc"}}
	mid := &BootstrappableConfig{ForwardUsers: []string{"build", "ci"}, Packages: []string{"gcc", "make"}}

	users, packages, scripts := aggregateChain([]*BootstrappableConfig{root, mid})

	assert.Equal(t, []string{"build", "ci"}, users)
	assert.Equal(t, []string{"gcc", "make"}, packages)
	assert.Empty(t, scripts)
}

func TestAggregateChainCollectsMaintscriptsInOrder(t *testing.T) {
	root := &BootstrappableConfig{Maintscript: script.New("root maintscript")}
	mid := &BootstrappableConfig{Maintscript: script.New("mid maintscript")}
	leaf := &BootstrappableConfig{}

	_, _, scripts := aggregateChain([]*BootstrappableConfig{root, mid, leaf})

	require.Len(t, scripts, 2)
	assert.Equal(t, "root maintscript", scripts[0].Title)
	assert.Equal(t, "mid maintscript", scripts[1].Title)
}

func TestChainConfigsWalksParentLinksRootFirst(t *testing.T) {
	root := &BootstrappableConfig{Packages: []string{"base"}}
	mid := &BootstrappableConfig{Parent: "root", Packages: []string{"mid"}}
	leaf := &BootstrappableConfig{Parent: "mid", Packages: []string{"leaf"}}

	store := &fakeStore{images: map[string]*Image{
		"root": {Name: "root", Bootstrappable: root},
		"mid":  {Name: "mid", Bootstrappable: mid},
	}}

	chain, err := chainConfigs(context.Background(), store, leaf)
	require.NoError(t, err)
	require.Len(t, chain, 3)
	assert.Same(t, root, chain[0])
	assert.Same(t, mid, chain[1])
	assert.Same(t, leaf, chain[2])
}

func TestChainConfigsStopsAtAncestorWithNoBootstrappable(t *testing.T) {
	mid := &BootstrappableConfig{Parent: "root", Packages: []string{"mid"}}
	store := &fakeStore{images: map[string]*Image{
		"root": {Name: "root", Runnable: &Runnable{Handle: "/some/path"}},
	}}

	chain, err := chainConfigs(context.Background(), store, mid)
	require.NoError(t, err)
	require.Len(t, chain, 1)
	assert.Same(t, mid, chain[0])
}

func TestBuildMaintenanceScriptsOrdering(t *testing.T) {
	d := &distro.Distro{PkgManager: distro.PkgAPT}
	maint := script.New("custom maintscript")

	scripts := buildMaintenanceScripts(d, []string{"build"}, []string{"gcc"}, []*script.Script{maint}, false)

	var titles []string
	for _, s := range scripts {
		titles = append(titles, s.Title)
	}
	assert.Equal(t, []string{
		"network setup",
		"update package database",
		"upgrade system",
		"install configured packages",
		"ensure forwarded users exist",
		"custom maintscript",
		"write CACHEDIR.TAG",
	}, titles)
}

func TestBuildMaintenanceScriptsSkipsCachedirTagWhenBackup(t *testing.T) {
	d := &distro.Distro{PkgManager: distro.PkgAPT}
	scripts := buildMaintenanceScripts(d, nil, nil, nil, true)
	for _, s := range scripts {
		assert.NotEqual(t, "write CACHEDIR.TAG", s.Title)
	}
}

func TestBuildMaintenanceScriptsOmitsInstallWhenNoPackages(t *testing.T) {
	d := &distro.Distro{PkgManager: distro.PkgAPT}
	scripts := buildMaintenanceScripts(d, nil, nil, nil, false)
	for _, s := range scripts {
		assert.NotEqual(t, "install configured packages", s.Title)
	}
}
