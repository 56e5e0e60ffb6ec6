package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/diylxy/uvc-gadget-multi-planar/internal/jpegenc"
)

var (
	encodeWidth   int
	encodeHeight  int
	encodeStride  int
	encodeQuality int
)

var encodeCmd = &cobra.Command{
	Use:   "encode <input.yuv> <output.jpg>",
	Short: "Encode one raw planar YUV 4:2:0 frame to JPEG",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return encodeFile(args[0], args[1])
	},
}

func init() {
	encodeCmd.Flags().IntVar(&encodeWidth, "width", 0, "frame width in pixels")
	encodeCmd.Flags().IntVar(&encodeHeight, "height", 0, "frame height in pixels")
	encodeCmd.Flags().IntVar(&encodeStride, "stride", 0, "luma bytes per line (default width)")
	encodeCmd.Flags().IntVar(&encodeQuality, "quality", jpegenc.DefaultQuality, "JPEG quality 1-100")
	encodeCmd.MarkFlagRequired("width")
	encodeCmd.MarkFlagRequired("height")
}

func encodeFile(in, out string) error {
	src, err := os.ReadFile(in)
	if err != nil {
		return err
	}
	dst := make([]byte, jpegenc.DestinationSize(encodeWidth, encodeHeight))
	n, err := jpegenc.NewEncoder(encodeQuality).EncodePlanar420(dst, src, encodeWidth, encodeHeight, encodeStride)
	if err != nil {
		return fmt.Errorf("encode %s: %w", in, err)
	}
	if err := os.WriteFile(out, dst[:n], 0o644); err != nil {
		return err
	}
	fmt.Printf("%s: %dx%d, %d bytes\n", out, encodeWidth, encodeHeight, n)
	return nil
}
