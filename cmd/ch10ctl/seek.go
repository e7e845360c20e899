package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"example.com/ch10stream/internal/ch10"
	"example.com/ch10stream/internal/common"
	"example.com/ch10stream/internal/index"
)

func newSeekCommand() *cobra.Command {
	var at string
	var rel int64
	var count int
	var storePath string
	cmd := &cobra.Command{
		Use:   "seek <file.ch10>",
		Short: "Position on a time and list the packets that follow in time order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			byTime := at != ""
			if byTime == cmd.Flags().Changed("rel") {
				return errors.New("exactly one of --time or --rel is required")
			}
			s, err := openRecording(args[0], ch10.ModeReadInOrder)
			if err != nil {
				return err
			}
			defer s.Close()
			st, err := openStore(storePath)
			if err != nil {
				return err
			}
			if st != nil {
				defer st.Close()
			}
			if err := index.BuildInOrder(st, s); err != nil {
				return err
			}
			hasTime := syncTime(s)

			out := cmd.OutOrStdout()
			if byTime {
				if !hasTime {
					return fmt.Errorf("%s has no time packet to translate --time", args[0])
				}
				ts, err := time.Parse(time.RFC3339Nano, at)
				if err != nil {
					return fmt.Errorf("--time: %w", err)
				}
				err = s.SetPosToTime(ch10.IrigTimeFrom(ts, ch10.DateFormatDMY))
				if err = clamped(out, err); err != nil {
					return err
				}
			} else {
				err = s.SetPosToRelTime(ch10.RelTime(rel))
				if err = clamped(out, err); err != nil {
					return err
				}
			}

			for i := 0; i < count; i++ {
				h, err := s.ReadNextHeader()
				if err != nil {
					if errors.Is(err, ch10.ErrEndOfFile) {
						break
					}
					if ch10.IsCorruption(err) {
						common.Warnf("%s: %v", args[0], err)
						continue
					}
					return err
				}
				abs := "-"
				if hasTime {
					if t, err := s.RelToIrig(h.RelTime); err == nil {
						abs = t.String()
					}
				}
				fmt.Fprintf(out, "%d channel=%d type=%s reltime=%d time=%s\n", s.HeaderPos(), h.ChannelID, h.DataType, h.RelTime, abs)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&at, "time", "", "Absolute time, RFC 3339 (e.g. 2024-03-01T12:00:01.5Z)")
	cmd.Flags().Int64Var(&rel, "rel", 0, "Relative time in 100 ns ticks")
	cmd.Flags().IntVar(&count, "count", 10, "Number of packets to list")
	cmd.Flags().StringVar(&storePath, StoreOptionName, "", "Index store to reuse in-order indexes from")
	return cmd
}

// clamped reports a seek outside the recording as a note rather than an
// error; the stream is then on the first or last packet.
func clamped(out io.Writer, err error) error {
	if errors.Is(err, ch10.ErrTimeNotFound) {
		fmt.Fprintln(out, "requested time outside the recording, clamped")
		return nil
	}
	return err
}
