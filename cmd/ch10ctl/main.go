package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"example.com/ch10stream/internal/ch10"
	"example.com/ch10stream/internal/common"
	"example.com/ch10stream/internal/index"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

const (
	LogLevelOptionName = "log-level"
	StoreOptionName    = "store"
	ChannelOptionName  = "channel"
)

func main() {
	if err := NewRootCommand(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}

func NewRootCommand(out io.Writer) *cobra.Command {
	var logLevel string
	cmd := &cobra.Command{
		Use:          "ch10ctl",
		Short:        "Inspect, index and replay Chapter 10 recordings",
		Version:      fmt.Sprintf("%s (built %s)", version, buildDate),
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			common.SetLogOutput(cmd.ErrOrStderr())
			if logLevel == "" {
				return nil
			}
			return common.SetLogLevel(logLevel)
		},
	}
	cmd.SetOut(out)
	cmd.AddCommand(newScanCommand())
	cmd.AddCommand(newDumpCommand())
	cmd.AddCommand(newIndexCommand())
	cmd.AddCommand(newSeekCommand())
	cmd.AddCommand(newSendCommand())
	cmd.AddCommand(newManifestCommand())
	cmd.AddCommand(newCaptureCommand())
	cmd.PersistentFlags().StringVar(&logLevel, LogLevelOptionName, "", "Log level: error, warning, info or debug")
	return cmd
}

// openStore opens the index store at path; an empty path means no store.
func openStore(path string) (*index.Store, error) {
	if path == "" {
		return nil, nil
	}
	return index.OpenStore(path)
}

// openRecording opens a file for reading and tolerates a missing setup
// record with a warning.
func openRecording(path string, mode ch10.Mode) (*ch10.Stream, error) {
	s, err := ch10.Open(path, mode)
	if err != nil {
		if errors.Is(err, ch10.ErrOpenWarning) {
			common.Warnf("%s: %v", path, err)
			return s, nil
		}
		return nil, err
	}
	return s, nil
}

// syncTime gives s a time reference from its first time packet. Files
// without one are usable with relative times only.
func syncTime(s *ch10.Stream) bool {
	if err := s.SyncTime(false, 0); err != nil {
		common.Debugf("%s: %v", s.Path(), err)
		return false
	}
	return true
}

func channelIDs(values []uint) ([]uint16, error) {
	ids := make([]uint16, 0, len(values))
	for _, v := range values {
		if v > 0xFFFF {
			return nil, fmt.Errorf("channel ID %d out of range", v)
		}
		ids = append(ids, uint16(v))
	}
	return ids, nil
}
