package main

import (
	"os"
	"runtime/debug"

	"github.com/arpa-simc/monci/pkg/cli"
	"github.com/arpa-simc/monci/pkg/container"
)

const defaultVersion = "unversioned"

var (
	commit  string
	version = defaultVersion
	date    string
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "__nspawn-callable-minder__" {
		container.RunMinderMain()
		return
	}
	updateBuildInfo()
	cli.SetBuildInfo(version, commit, date)
	os.Exit(cli.Execute())
}

// updateBuildInfo fills in commit/date from the Go module's own embedded
// VCS info when the linker didn't set version via -ldflags (version
// itself stays at its default),
// mirroring the teacher's main.go fallback for `go install`-built
// binaries.
func updateBuildInfo() {
	if version != defaultVersion {
		return
	}
	buildInfo, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	for _, setting := range buildInfo.Settings {
		switch setting.Key {
		case "vcs.revision":
			commit = setting.Value
		case "vcs.time":
			date = setting.Value
		}
	}
}
