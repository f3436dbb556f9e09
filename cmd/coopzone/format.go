package main

import (
	"fmt"
	"io"
	"sort"

	"github.com/stwalsh4118/coopzone/internal/models"
)

func printRunReport(w io.Writer, set *models.ExclusionSet, written []string) {
	s := set.Summary

	fmt.Fprintf(w, "Run %s (radius %g)\n", set.RunID, set.Radius)
	fmt.Fprintf(w, "  Parcels:   %d total, %d residential, %d non-residential (%d unknown zoning)\n",
		s.ParcelsTotal, s.Residential, s.NonResidential, s.UnknownZoning)
	fmt.Fprintf(w, "  Processed: %d, with allowed area %d, degraded %d\n",
		s.ParcelsProcessed, s.ParcelsWithAllowed, s.ParcelsDegraded)
	printCounts(w, "  Skipped:  ", s.ParcelsSkipped)
	fmt.Fprintf(w, "  Buildings: %d total, %d dwellings (%d unassigned)\n",
		s.BuildingsTotal, s.Dwellings, s.DwellingsUnassigned)
	printCounts(w, "  Dropped:  ", s.BuildingsDropped)

	if s.WarningsTotal > 0 {
		fmt.Fprintf(w, "\nWARNINGS (%d):\n", s.WarningsTotal)
		for _, warn := range s.Warnings {
			if warn.Detail != "" {
				fmt.Fprintf(w, "  [%s] %s: %s\n", warn.Kind, warn.EntityID, warn.Detail)
			} else {
				fmt.Fprintf(w, "  [%s] %s\n", warn.Kind, warn.EntityID)
			}
		}
		if hidden := s.WarningsTotal - len(s.Warnings); hidden > 0 {
			fmt.Fprintf(w, "  ... and %d more\n", hidden)
		}
	}

	if len(written) > 0 {
		fmt.Fprintln(w, "\nWrote:")
		for _, path := range written {
			fmt.Fprintf(w, "  %s\n", path)
		}
	}
}

// printCounts prints reason counts in a stable order, or nothing when all are zero.
func printCounts(w io.Writer, label string, counts map[string]int) {
	reasons := make([]string, 0, len(counts))
	for reason, n := range counts {
		if n > 0 {
			reasons = append(reasons, reason)
		}
	}
	if len(reasons) == 0 {
		return
	}
	sort.Strings(reasons)

	fmt.Fprint(w, label)
	for i, reason := range reasons {
		if i > 0 {
			fmt.Fprint(w, ",")
		}
		fmt.Fprintf(w, " %s %d", reason, counts[reason])
	}
	fmt.Fprintln(w)
}
