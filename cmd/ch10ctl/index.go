package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"example.com/ch10stream/internal/ch10"
	"example.com/ch10stream/internal/common"
	"example.com/ch10stream/internal/index"
	"example.com/ch10stream/internal/tmats"
)

const embeddedKind = "embedded"

func newIndexCommand() *cobra.Command {
	var channels []uint
	var storePath string
	var list, rebuild bool
	var at int64
	cmd := &cobra.Command{
		Use:   "index <file.ch10>",
		Short: "Build or read the time index of a recording",
		Long: "Without --channel the recorder's embedded index is read, falling back to a " +
			"scan of every channel declared in the setup record. With --channel only those " +
			"channels are indexed by scanning the file.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := channelIDs(channels)
			if err != nil {
				return err
			}
			st, err := openStore(storePath)
			if err != nil {
				return err
			}
			if st != nil {
				defer st.Close()
			}
			s, err := openRecording(args[0], ch10.ModeRead)
			if err != nil {
				return err
			}
			defer s.Close()

			entries, source, err := loadIndex(st, s, ids, rebuild)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: %d entries (%s)\n", args[0], len(entries), source)
			if cmd.Flags().Changed("at") {
				i, err := index.Seek(entries, ch10.RelTime(at))
				if err != nil && !errors.Is(err, ch10.ErrTimeNotFound) {
					return err
				}
				if err != nil {
					fmt.Fprintf(out, "time %d outside the index, clamped\n", at)
				}
				e := entries[i]
				fmt.Fprintf(out, "at %d: offset=%d channel=%d type=%s reltime=%d\n", at, e.Offset, e.ChannelID, e.DataType, e.RelTime)
			}
			if list {
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "OFFSET\tCHANNEL\tTYPE\tRELTIME\tTIME")
				for _, e := range entries {
					abs := "-"
					if e.Time != nil {
						abs = e.Time.String()
					}
					fmt.Fprintf(tw, "%d\t%d\t%s\t%d\t%s\n", e.Offset, e.ChannelID, e.DataType, e.RelTime, abs)
				}
				return tw.Flush()
			}
			return nil
		},
	}
	cmd.Flags().UintSliceVar(&channels, ChannelOptionName, nil, "Index only these channel IDs by scanning")
	cmd.Flags().StringVar(&storePath, StoreOptionName, "", "Index store to cache built indexes in")
	cmd.Flags().BoolVar(&list, "list", false, "Print every entry")
	cmd.Flags().BoolVar(&rebuild, "rebuild", false, "Ignore indexes cached in the store")
	cmd.Flags().Int64Var(&at, "at", 0, "Look up the entry at this relative time (100 ns ticks)")
	return cmd
}

// loadIndex returns the entries for the requested channels together with a
// word on where they came from.
func loadIndex(st *index.Store, s *ch10.Stream, ids []uint16, rebuild bool) ([]index.Entry, string, error) {
	kind := embeddedKind
	if len(ids) > 0 {
		kind = channelsKind(ids)
	}
	var fp common.Fingerprint
	if st != nil {
		var err error
		if fp, err = common.FingerprintFile(s.Path()); err != nil {
			return nil, "", err
		}
		if !rebuild {
			entries, ok, err := st.LoadEntries(fp, kind)
			if err != nil {
				common.Warnf("index store: %v", err)
			}
			if ok {
				return entries, "store", nil
			}
		}
	}

	var entries []index.Entry
	source := "scan"
	var err error
	if len(ids) == 0 {
		entries, err = index.ReadIndexes(s, nil)
		source = "embedded index"
		if errors.Is(err, ch10.ErrNoIndex) || (err != nil && ch10.IsCorruption(err)) {
			common.Infof("%s: embedded index unusable (%v), scanning", s.Path(), err)
			ids, err = declaredChannels(s)
			if err != nil {
				return nil, "", err
			}
			entries, err = index.MakeIndexForChannels(s, ids)
			source = "scan"
		}
	} else {
		entries, err = index.MakeIndexForChannels(s, ids)
	}
	if err != nil {
		return nil, "", err
	}
	if st != nil {
		if err := st.SaveEntries(fp, kind, entries); err != nil {
			common.Warnf("index store: %v", err)
		}
	}
	return entries, source, nil
}

// declaredChannels lists the channels of the setup record, or every channel
// ID present in the file when the setup record declares none.
func declaredChannels(s *ch10.Stream) ([]uint16, error) {
	if err := s.FirstMsg(); err != nil {
		return nil, err
	}
	h, data, err := s.ReadPacket()
	if err == nil && h.DataType == ch10.DataTypeTMATS {
		if doc, err := tmats.FromPacket(data); err == nil {
			if ids := doc.Channels(); len(ids) > 0 {
				return ids, nil
			}
		}
	}
	seen := make(map[uint16]bool)
	var ids []uint16
	if err := s.FirstMsg(); err != nil {
		return nil, err
	}
	for {
		h, err := s.ReadNextHeader()
		if err != nil {
			if errors.Is(err, ch10.ErrEndOfFile) {
				return ids, nil
			}
			if ch10.IsCorruption(err) {
				continue
			}
			return nil, err
		}
		if !seen[h.ChannelID] {
			seen[h.ChannelID] = true
			ids = append(ids, h.ChannelID)
		}
	}
}

func channelsKind(ids []uint16) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(int(id))
	}
	return "channels-" + strings.Join(parts, ",")
}
