package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"example.com/ch10stream/internal/ch10"
	"example.com/ch10stream/internal/common"
	"example.com/ch10stream/internal/netstream"
)

func newCaptureCommand() *cobra.Command {
	var port uint16
	cmd := &cobra.Command{
		Use:   "capture <in.pcap> <out.ch10>",
		Short: "Rebuild a recording from a packet capture of a UDP transfer stream",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rcv, err := netstream.OpenCapture(args[0], port)
			if err != nil {
				return err
			}
			metrics := common.NewMetrics()
			rcv.SetMetrics(metrics)
			session := ch10.NewSession()
			defer session.Close()
			in := session.OpenNetReader(rcv)
			in.SetMetrics(metrics)
			out, err := session.Open(args[1], ch10.ModeOverwrite)
			if err != nil {
				return err
			}
			var packets int
			for {
				h, data, err := in.ReadPacket()
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
				if err := out.WriteMessage(h, data); err != nil {
					return err
				}
				packets++
			}
			if err := out.Close(); err != nil {
				return err
			}
			snap := metrics.Snapshot()
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d packets from %d datagrams to %s (gaps=%d, dropped=%d)\n",
				packets, snap.Datagrams, args[1], snap.SequenceGaps, snap.Dropped)
			return nil
		},
	}
	cmd.Flags().Uint16Var(&port, "port", 4400, "UDP destination port of the stream (0 accepts any)")
	return cmd
}
