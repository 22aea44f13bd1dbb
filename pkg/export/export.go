// Package export writes OD tables in the formats offered by the CLI.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/kilianp07/bikeflow/core/geo"
	"github.com/kilianp07/bikeflow/core/model"
)

// Formats lists the accepted values of Write's format argument.
var Formats = []string{"table", "json", "csv"}

// Write dispatches to the writer for format.
func Write(w io.Writer, format string, rows []model.ODRow, idx model.StationIndex) error {
	switch format {
	case "", "table":
		return WriteTable(w, rows, idx)
	case "json":
		return WriteJSON(w, rows)
	case "csv":
		return WriteCSV(w, rows)
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}

// WriteJSON writes rows as a JSON array. A nil table is written as [].
func WriteJSON(w io.Writer, rows []model.ODRow) error {
	if rows == nil {
		rows = []model.ODRow{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rows)
}

// WriteCSV writes rows with an origin,destination,count header.
func WriteCSV(w io.Writer, rows []model.ODRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"origin", "destination", "count"}); err != nil {
		return err
	}
	for _, r := range rows {
		if err := cw.Write([]string{r.Origin, r.Destination, strconv.Itoa(r.Count)}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteTable writes an aligned table. When idx knows both stations, their
// names and the great-circle distance are added.
func WriteTable(w io.Writer, rows []model.ODRow, idx model.StationIndex) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	if _, err := fmt.Fprintln(tw, "ORIGIN\tDESTINATION\tCOUNT\tDISTANCE_M\t"); err != nil {
		return err
	}
	for _, r := range rows {
		origin, dest, dist := r.Origin, r.Destination, "-"
		o, okO := idx[r.Origin]
		d, okD := idx[r.Destination]
		if okO && o.Name != "" {
			origin = fmt.Sprintf("%s (%s)", o.Name, o.ID)
		}
		if okD && d.Name != "" {
			dest = fmt.Sprintf("%s (%s)", d.Name, d.ID)
		}
		if okO && okD {
			dist = strconv.FormatFloat(geo.Distance(o.Point(), d.Point()), 'f', 0, 64)
		}
		if _, err := fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t\n", origin, dest, r.Count, dist); err != nil {
			return err
		}
	}
	return tw.Flush()
}
