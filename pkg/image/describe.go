package image

import (
	"bufio"
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/arpa-simc/monci/pkg/container"
	"github.com/arpa-simc/monci/pkg/script"
)

// probeVersions starts an ephemeral container on rn and runs the distro's
// get-versions probe (spec.md §4.3 "Describe"), parsing its
// "name version" stdout lines into a map.
func probeVersions(ctx context.Context, rn *Runnable, packages []string) (map[string]string, error) {
	if len(packages) == 0 {
		return map[string]string{}, nil
	}

	path, cleanup, err := rn.Probe(ctx)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	rt := container.NewNspawnRuntime(path, logrus.NewEntry(logrus.StandardLogger()))
	ctr, err := rt.Container(ctx, container.Config{Name: "describe", Ephemeral: true})
	if err != nil {
		return nil, err
	}
	if err := ctr.Enter(ctx); err != nil {
		return nil, err
	}
	defer ctr.Close(ctx)

	s := script.New("get installed versions")
	rn.Distro.RenderGetVersions(s, packages)
	out, err := ctr.RunScript(ctx, s)
	if err != nil {
		return nil, err
	}

	versions := map[string]string{}
	scanner := bufio.NewScanner(strings.NewReader(out.Stdout))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) != 2 {
			continue
		}
		versions[fields[0]] = fields[1]
	}
	return versions, nil
}
