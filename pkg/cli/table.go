package cli

import (
	"encoding/csv"
	"os"
	"text/tabwriter"
)

// printTable renders rows either as a CSV stream (--csv) or as an
// aligned text/tabwriter table, the two output modes spec.md §6 asks
// `images`/`distros` to support. Neither form appears anywhere in the
// pack, so this stays on the standard library: no third-party
// table/CSV-writer shows up in any example repo's go.mod.
func printTable(asCSV bool, header []string, rows [][]string) {
	if asCSV {
		w := csv.NewWriter(os.Stdout)
		defer w.Flush()
		_ = w.Write(header)
		for _, r := range rows {
			_ = w.Write(r)
		}
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	defer w.Flush()
	writeRow(w, header)
	for _, r := range rows {
		writeRow(w, r)
	}
}

func writeRow(w *tabwriter.Writer, cols []string) {
	for i, c := range cols {
		if i > 0 {
			w.Write([]byte("\t"))
		}
		w.Write([]byte(c))
	}
	w.Write([]byte("\n"))
}
