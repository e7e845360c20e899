package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"example.com/ch10stream/internal/common"
	"example.com/ch10stream/internal/report"
)

func newScanCommand() *cobra.Command {
	var jsonOut, pdfOut, eventsPath string
	var verify, progress, metricsFlag bool
	cmd := &cobra.Command{
		Use:   "scan <file.ch10>",
		Short: "Walk a recording and report damage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := args[0]
			opts := report.ScanOptions{VerifyPayload: verify, Metrics: common.NewMetrics()}
			if eventsPath != "" {
				opts.Events = common.NewEventLog(eventsPath)
			}
			var stopProgress func()
			if progress {
				stopProgress = common.StartProgressPrinter(os.Stderr, opts.Metrics, 500*time.Millisecond)
			}
			rep, err := report.Scan(in, opts)
			if stopProgress != nil {
				stopProgress()
			}
			if err != nil {
				return fmt.Errorf("scan %s: %w", in, err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: %s, packets=%d, resyncs=%d, header checksum errors=%d, payload errors=%d, findings=%d\n",
				in, passWord(rep.Clean()), rep.Packets, rep.Resyncs, rep.HeaderChecksumErrors, rep.PayloadErrors, len(rep.Findings))
			if rep.FirstTime != "" {
				fmt.Fprintf(out, "time: %s - %s\n", rep.FirstTime, rep.LastTime)
			}
			for _, c := range rep.Channels {
				fmt.Fprintf(out, "  channel %5d %-16s packets=%d bytes=%s\n", c.ID, c.DataType, c.Packets, common.FormatBytes(c.Bytes))
			}
			if metricsFlag {
				snap := opts.Metrics.Snapshot()
				fmt.Fprintf(out, "Metrics: duration=%s processed=%s throughput=%.2f MB/s\n",
					snap.Duration.Round(10*time.Millisecond),
					common.FormatBytes(snap.Bytes),
					snap.ThroughputBytesPerSecond()/1_000_000,
				)
			}

			if jsonOut != "" {
				if err := report.SaveScanJSON(rep, jsonOut); err != nil {
					return fmt.Errorf("write report: %w", err)
				}
			}
			if pdfOut != "" {
				if err := report.SaveScanPDF(rep, pdfOut); err != nil {
					return fmt.Errorf("write pdf: %w", err)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&jsonOut, "json", "", "Write the report as JSON to this file")
	cmd.Flags().StringVar(&pdfOut, "pdf", "", "Write the report as PDF to this file")
	cmd.Flags().StringVar(&eventsPath, "events", "", "Append corruption events to this JSONL file")
	cmd.Flags().BoolVar(&verify, "verify", true, "Check data checksums of every packet")
	cmd.Flags().BoolVar(&progress, "progress", false, "Display progress updates")
	cmd.Flags().BoolVar(&metricsFlag, "metrics", false, "Print throughput metrics")
	return cmd
}

func passWord(clean bool) string {
	if clean {
		return "CLEAN"
	}
	return "DAMAGED"
}
