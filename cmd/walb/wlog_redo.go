package walb

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/wal-g/tracelog"

	"github.com/walb-linux/walb-tools-pkg/internal/blockdev"
	"github.com/walb-linux/walb-tools-pkg/internal/config"
	"github.com/walb-linux/walb-tools-pkg/internal/redo"
	"github.com/walb-linux/walb-tools-pkg/utility"
)

const (
	WlogRedoShortDescription = "Applies a wlog stream to a block device"
	RedoInputFlag            = "input"
	RedoInputShorthand       = "i"
	RedoDiscardFlag          = "discard"
	RedoDiscardShorthand     = "d"
	RedoZeroFlag             = "zero-discard"
	RedoZeroShorthand        = "z"
	RedoVerboseFlag          = "verbose"
	RedoVerboseShorthand     = "v"
)

var (
	wlogRedoCmd = &cobra.Command{
		Use:   "wlog-redo device_path",
		Short: WlogRedoShortDescription,
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			err := handleWlogRedo(args[0])
			tracelog.ErrorLogger.FatalOnError(err)
		},
	}
	redoInputPath = ""
	redoDiscard   = false
	redoZero      = false
	redoVerbose   = false
)

func handleWlogRedo(devPath string) error {
	if redoDiscard && redoZero {
		return blockdev.NewInvalidConfigError(
			"--%s and --%s are mutually exclusive", RedoDiscardFlag, RedoZeroFlag)
	}
	mode := redo.DiscardNone
	if redoDiscard {
		mode = redo.DiscardIssue
	}
	if redoZero {
		mode = redo.DiscardZero
	}

	var in *os.File
	if redoInputPath == "" || redoInputPath == "-" {
		in = os.Stdin
	} else {
		f, err := os.Open(redoInputPath)
		if err != nil {
			return err
		}
		defer utility.LoggedClose(f, "failed to close wlog input")
		in = f
	}

	bdev, err := blockdev.Open(devPath)
	if err != nil {
		return err
	}
	defer utility.LoggedClose(bdev, "failed to close block device")

	applyer, err := redo.NewApplyer(bdev, redo.Config{
		DiscardMode: mode,
		BufferSize:  config.BufferSize(),
		MaxIoSize:   config.MaxIoSize(),
		Verbose:     redoVerbose,
	})
	if err != nil {
		return err
	}
	_, err = applyer.ReadAndApply(in)
	return err
}

func init() {
	wlogRedoCmd.Flags().StringVarP(&redoInputPath, RedoInputFlag, RedoInputShorthand, "",
		"wlog input file (default stdin)")
	wlogRedoCmd.Flags().BoolVarP(&redoDiscard, RedoDiscardFlag, RedoDiscardShorthand, false,
		"issue discards to the device")
	wlogRedoCmd.Flags().BoolVarP(&redoZero, RedoZeroFlag, RedoZeroShorthand, false,
		"write zeroes instead of discarding")
	wlogRedoCmd.Flags().BoolVarP(&redoVerbose, RedoVerboseFlag, RedoVerboseShorthand, false,
		"verbose debug output")
	WalbCmd.AddCommand(wlogRedoCmd)
}
