package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"example.com/ch10stream/internal/ch10"
	"example.com/ch10stream/internal/common"
	"example.com/ch10stream/internal/netstream"
)

func newSendCommand() *cobra.Command {
	var addr string
	var maxDatagram int
	var realtime bool
	var rate float64
	cmd := &cobra.Command{
		Use:   "send <file.ch10>",
		Short: "Replay a recording as a UDP transfer stream",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if realtime && rate > 0 {
				return errors.New("--realtime and --rate cannot be used together")
			}
			src, err := openRecording(args[0], ch10.ModeRead)
			if err != nil {
				return err
			}
			defer src.Close()
			sender, err := netstream.Dial(addr, maxDatagram)
			if err != nil {
				return err
			}
			metrics := common.NewMetrics()
			sender.SetMetrics(metrics)
			dst := ch10.OpenNetWriter(sender)
			defer dst.Close()

			metrics.Start()
			p := pacer{realtime: realtime}
			if rate > 0 {
				p.interval = time.Duration(float64(time.Second) / rate)
			}
			var packets int64
			for {
				h, data, err := src.ReadPacket()
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
				p.wait(h.RelTime)
				if err := dst.WriteMessage(h, data); err != nil {
					return err
				}
				packets++
			}
			metrics.Stop()
			snap := metrics.Snapshot()
			fmt.Fprintf(cmd.OutOrStdout(), "sent %d packets in %d datagrams (%s) to %s in %s\n",
				packets, snap.Datagrams, common.FormatBytes(snap.Bytes), addr, snap.Duration.Round(time.Millisecond))
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:4400", "Destination host:port")
	cmd.Flags().IntVar(&maxDatagram, "max-datagram", netstream.DefaultMaxDatagram, "Largest UDP payload to send")
	cmd.Flags().BoolVar(&realtime, "realtime", false, "Pace packets by their relative time stamps")
	cmd.Flags().Float64Var(&rate, "rate", 0, "Packets per second (0 sends as fast as possible)")
	return cmd
}

// pacer spaces out transmissions, either at a fixed interval or following
// the packets' relative time stamps.
type pacer struct {
	realtime bool
	interval time.Duration

	started bool
	start   time.Time
	rel0    ch10.RelTime
}

func (p *pacer) wait(rel ch10.RelTime) {
	now := time.Now()
	if !p.started {
		p.started, p.start, p.rel0 = true, now, rel
		return
	}
	switch {
	case p.realtime:
		if rel < p.rel0 {
			return
		}
		due := p.start.Add((rel - p.rel0).Duration())
		if d := due.Sub(now); d > 0 {
			time.Sleep(d)
		}
	case p.interval > 0:
		due := p.start.Add(p.interval)
		if d := due.Sub(now); d > 0 {
			time.Sleep(d)
		}
		p.start = time.Now()
	}
}
