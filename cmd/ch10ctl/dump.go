package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"example.com/ch10stream/internal/ch10"
	"example.com/ch10stream/internal/common"
	"example.com/ch10stream/internal/index"
)

func newDumpCommand() *cobra.Command {
	var channels []uint
	var limit int
	var inOrder bool
	var storePath string
	cmd := &cobra.Command{
		Use:   "dump <file.ch10>",
		Short: "List packet headers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mode := ch10.ModeRead
			if inOrder {
				mode = ch10.ModeReadInOrder
			}
			s, err := openRecording(args[0], mode)
			if err != nil {
				return err
			}
			defer s.Close()
			hasTime := syncTime(s)
			if inOrder {
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
			}

			ids, err := channelIDs(channels)
			if err != nil {
				return err
			}
			want := make(map[uint16]bool, len(ids))
			for _, ch := range ids {
				want[ch] = true
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "OFFSET\tCHANNEL\tTYPE\tSEQ\tLENGTH\tRELTIME\tTIME")
			shown := 0
			for limit <= 0 || shown < limit {
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
				if len(want) > 0 && !want[h.ChannelID] {
					continue
				}
				abs := "-"
				if t, err := h.SecondaryTime(); err == nil {
					abs = t.String()
				} else if hasTime {
					if t, err := s.RelToIrig(h.RelTime); err == nil {
						abs = t.String()
					}
				}
				fmt.Fprintf(tw, "%d\t%d\t%s\t%d\t%d\t%d\t%s\n",
					s.HeaderPos(), h.ChannelID, h.DataType, h.SeqNum, h.PacketLen, h.RelTime, abs)
				shown++
			}
			return tw.Flush()
		},
	}
	cmd.Flags().UintSliceVar(&channels, ChannelOptionName, nil, "Only list these channel IDs")
	cmd.Flags().IntVar(&limit, "limit", 0, "Stop after this many headers (0 lists all)")
	cmd.Flags().BoolVar(&inOrder, "in-order", false, "List packets in time order")
	cmd.Flags().StringVar(&storePath, StoreOptionName, "", "Index store to reuse in-order indexes from")
	return cmd
}
