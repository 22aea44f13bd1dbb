package cmd

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/bikeflow/app"
	"github.com/kilianp07/bikeflow/core/flow"
	coremetrics "github.com/kilianp07/bikeflow/core/metrics"
	"github.com/kilianp07/bikeflow/core/model"
	"github.com/kilianp07/bikeflow/core/runlog"
	"github.com/kilianp07/bikeflow/infra/logger"
	"github.com/kilianp07/bikeflow/pkg/export"
)

var inferOpts struct {
	start, end string
	bucket     string
	matcher    string
	top        int
	format     string
}

var inferCmd = &cobra.Command{
	Use:   "infer",
	Short: "Infer OD flows from stored status readings",
	RunE:  infer,
}

func init() {
	f := inferCmd.Flags()
	f.StringVar(&inferOpts.start, "start", "", "first reading to use (RFC 3339, YYYY-MM-DD or -Nd); default earliest")
	f.StringVar(&inferOpts.end, "end", "", "last reading to use; default latest")
	f.StringVar(&inferOpts.bucket, "bucket", "", "bucket width, e.g. 10m (overrides inference.bucket_width)")
	f.StringVar(&inferOpts.matcher, "matcher", "", "matcher name: "+strings.Join(flow.MatcherNames(), ", "))
	f.IntVar(&inferOpts.top, "top", 20, "number of OD pairs to print, 0 for all")
	f.StringVar(&inferOpts.format, "format", "table", "output format: "+strings.Join(export.Formats, ", "))
	rootCmd.AddCommand(inferCmd)
}

func infer(cmd *cobra.Command, _ []string) error {
	if !slices.Contains(export.Formats, inferOpts.format) {
		return fmt.Errorf("unknown format %q", inferOpts.format)
	}
	ic := cfg.Inference
	if inferOpts.bucket != "" {
		ic.BucketWidth = inferOpts.bucket
	}
	if inferOpts.matcher != "" {
		ic.Matcher.Type = inferOpts.matcher
		ic.Matcher.Conf = nil
	}
	now := time.Now().UTC()
	var start, end time.Time
	var err error
	if inferOpts.start != "" {
		if start, err = model.ParseDate(inferOpts.start, now); err != nil {
			return err
		}
	}
	if inferOpts.end != "" {
		if end, err = model.ParseDate(inferOpts.end, now); err != nil {
			return err
		}
	}

	ctx := cmd.Context()
	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()
	runs, err := runlog.New(cfg.RunLog)
	if err != nil {
		return err
	}
	defer func() { _ = runs.Close() }()
	sink, err := coremetrics.NewMetricsSink(cfg.Metrics.Sinks)
	if err != nil {
		return err
	}

	engine, err := flow.NewEngine(ic, logger.New("inference"), sink)
	if err != nil {
		return err
	}
	res, err := app.NewInference(engine, store, logger.New("inference"),
		app.WithRunLog(runs, cfg.RunLog.TopN), app.WithFlowStore(store)).Run(ctx, start, end)
	if err != nil {
		return err
	}
	stations, err := store.Stations(ctx)
	if err != nil {
		return err
	}
	return export.Write(cmd.OutOrStdout(), inferOpts.format, flow.TopN(res.OD, inferOpts.top), model.IndexStations(stations))
}
