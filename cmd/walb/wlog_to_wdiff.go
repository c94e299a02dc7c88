package walb

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/wal-g/tracelog"

	"github.com/walb-linux/walb-tools-pkg/internal/blockdev"
	"github.com/walb-linux/walb-tools-pkg/internal/config"
	"github.com/walb-linux/walb-tools-pkg/internal/convert"
	internalwalb "github.com/walb-linux/walb-tools-pkg/internal/walb"
	"github.com/walb-linux/walb-tools-pkg/utility"
)

const (
	WlogToWdiffShortDescription = "Converts wlog streams into a single wdiff"
	ConvertInputFlag            = "input"
	ConvertInputShorthand       = "i"
	ConvertOutputFlag           = "output"
	ConvertOutputShorthand      = "o"
	CompressionFlag             = "compress"
	MaxIoBlocksFlag             = "max-io-blocks"
	MaxIoBlocksShorthand        = "x"
)

var (
	wlogToWdiffCmd = &cobra.Command{
		Use:   "wlog-to-wdiff",
		Short: WlogToWdiffShortDescription,
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			err := handleWlogToWdiff()
			tracelog.ErrorLogger.FatalOnError(err)
		},
	}
	convertInputPath   = ""
	convertOutputPath  = ""
	convertMaxIoBlocks = uint16(0)
	compressionName    = "snappy"
)

// compressionTypeFromName maps a flag value to a compression type id.
func compressionTypeFromName(name string) (uint8, error) {
	switch name {
	case "none":
		return internalwalb.CmprNone, nil
	case "snappy":
		return internalwalb.CmprSnappy, nil
	}
	return 0, blockdev.NewInvalidConfigError("unsupported compression type %q", name)
}

func handleWlogToWdiff() error {
	cmprType, err := compressionTypeFromName(compressionName)
	if err != nil {
		return err
	}

	var in *os.File
	if convertInputPath == "" || convertInputPath == "-" {
		in = os.Stdin
	} else {
		f, err := os.Open(convertInputPath)
		if err != nil {
			return err
		}
		defer utility.LoggedClose(f, "failed to close wlog input")
		in = f
	}

	var out *os.File
	if convertOutputPath == "" || convertOutputPath == "-" {
		out = os.Stdout
	} else {
		f, err := os.Create(convertOutputPath)
		if err != nil {
			return err
		}
		defer utility.LoggedClose(f, "failed to close wdiff output")
		out = f
	}

	maxIoBlocks := convertMaxIoBlocks
	if maxIoBlocks == 0 {
		maxIoBlocks = config.MaxIoBlocks()
	}
	converter := convert.NewConverter(maxIoBlocks)
	return converter.Convert(in, out, cmprType)
}

func init() {
	wlogToWdiffCmd.Flags().StringVarP(&convertInputPath, ConvertInputFlag, ConvertInputShorthand, "",
		"wlog input file (default stdin)")
	wlogToWdiffCmd.Flags().StringVarP(&convertOutputPath, ConvertOutputFlag, ConvertOutputShorthand, "",
		"wdiff output file (default stdout)")
	wlogToWdiffCmd.Flags().Uint16VarP(&convertMaxIoBlocks, MaxIoBlocksFlag, MaxIoBlocksShorthand, 0,
		"maximum io size of output records [logical blocks], 0 means unlimited")
	wlogToWdiffCmd.Flags().StringVar(&compressionName, CompressionFlag, "snappy",
		"payload compression: none or snappy")
	WalbCmd.AddCommand(wlogToWdiffCmd)
}
