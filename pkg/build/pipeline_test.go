package build

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arpa-simc/monci/pkg/container"
	"github.com/arpa-simc/monci/pkg/distro"
	"github.com/arpa-simc/monci/pkg/source"
)

func TestRunDebianDscStyleNeedsNoBuildStep(t *testing.T) {
	rt := container.NewMockRuntime()
	d := &distro.Distro{Family: distro.Debian, PkgManager: distro.PkgAPT}
	src := &source.DistroSource{
		Style: source.DebianDsc,
		Local: source.NewFile("/tmp/monci_1.0-1.dsc"),
	}
	cfg := &Config{SourceOnly: true}

	res, err := Run(context.Background(), rt, d, src, cfg, "bookworm")
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestRunDebianDirStyleRunsSourceAndBinarySteps(t *testing.T) {
	rt := container.NewMockRuntime()
	d := &distro.Distro{Family: distro.Debian, PkgManager: distro.PkgAPT}
	src := &source.DistroSource{
		Style: source.DebianDir,
		Local: source.NewDir("/tmp/work/monci"),
		Info: &source.SourceInfo{
			Name: "monci", Version: "1.0-1", UpstreamVersion: "1.0",
			DscFilename: "monci_1.0-1.dsc", Native: true,
		},
	}
	cfg := &Config{}

	res, err := Run(context.Background(), rt, d, src, cfg, "bookworm")
	require.NoError(t, err)
	assert.True(t, res.Success)

	var sawSourceBuild, sawBinaryBuild bool
	for _, ev := range rt.Log.Events() {
		if ev.String() == "container.run: dpkg-buildpackage -S --no-sign --no-pre-clean" {
			sawSourceBuild = true
		}
		if ev.String() == "script: build binary packages" {
			sawBinaryBuild = true
		}
	}
	assert.True(t, sawSourceBuild, "expected a dpkg-buildpackage -S run event")
	assert.True(t, sawBinaryBuild, "expected a 'build binary packages' script event")
}

func TestRunCallsSuccessHookOnSuccess(t *testing.T) {
	rt := container.NewMockRuntime()
	d := &distro.Distro{Family: distro.Debian, PkgManager: distro.PkgAPT}
	src := &source.DistroSource{
		Style: source.DebianDsc,
		Local: source.NewFile("/tmp/x.dsc"),
		Info:  &source.SourceInfo{Name: "x"},
	}
	cfg := &Config{SourceOnly: true, OnSuccess: []string{"@linger"}}

	_, err := Run(context.Background(), rt, d, src, cfg, "bookworm")
	require.NoError(t, err)

	var sawLinger bool
	for _, ev := range rt.Log.Events() {
		if ev.String() == "container.close.lingered: build-x" {
			sawLinger = true
		}
	}
	assert.True(t, sawLinger, "expected the container to have lingered after @linger hook")
}

func TestRunRPMStyleUsesRpmbuild(t *testing.T) {
	rt := container.NewMockRuntime()
	d := &distro.Distro{Family: distro.Fedora, PkgManager: distro.PkgDNF, Version: "41"}
	src := &source.DistroSource{
		Style:    source.RPMArpa,
		Local:    source.NewDir("/tmp/work/monci"),
		Specfile: "/tmp/work/monci/monci.spec",
	}
	cfg := &Config{}

	res, err := Run(context.Background(), rt, d, src, cfg, "fedora41")
	require.NoError(t, err)
	assert.True(t, res.Success)

	var sawSRPM, sawRPM bool
	for _, ev := range rt.Log.Events() {
		switch ev.String() {
		case "container.run: rpmbuild -br --define _topdir /root/rpmbuild /root/rpmbuild/SPECS/monci.spec":
			sawSRPM = true
		case "container.run: rpmbuild -ba --define _topdir /root/rpmbuild /root/rpmbuild/SPECS/monci.spec":
			sawRPM = true
		}
	}
	assert.True(t, sawSRPM, "expected an rpmbuild -br run event")
	assert.True(t, sawRPM, "expected an rpmbuild -ba run event")
}
