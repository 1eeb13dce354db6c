package main

import (
	"fmt"
	"image"
	"os"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/dj-oyu/live-detect-client/internal/capture"
	"github.com/dj-oyu/live-detect-client/internal/config"
	"github.com/dj-oyu/live-detect-client/internal/detection"
	"github.com/dj-oyu/live-detect-client/internal/overlay"
)

var (
	annotatePath  string
	detectPersist bool
)

var detectCmd = &cobra.Command{
	Use:     "detect <image>",
	Short:   "Run one detection exchange on an image file",
	Example: `  detect-client detect street.jpg --annotate street-boxes.jpg`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		source := capture.NewFileSource(args[0])
		frame, err := source.Frame(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", args[0], err)
		}
		dataURL, err := capture.EncodeDataURL(frame)
		if err != nil {
			return err
		}

		client := detection.NewClient(config.NewStore(cfg.BaseURL), cfg.Timeout)
		res := client.Detect(cmd.Context(), detection.Request{
			Image:   dataURL,
			Persist: detectPersist,
			Token:   uuid.NewString(),
		})
		if !res.OK() {
			return res.Err
		}

		if annotatePath != "" {
			if err := writeAnnotated(annotatePath, frame, res.Detections); err != nil {
				return err
			}
		}

		if jsonOutput {
			return printJSON(map[string]any{
				"detections":  res.Detections,
				"persistence": res.Persistence,
				"latency_ms":  res.Latency.Milliseconds(),
			})
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "LABEL\tCONFIDENCE\tBOX\tPLATE")
		fmt.Fprintln(w, "-----\t----------\t---\t-----")
		for _, d := range res.Detections {
			fmt.Fprintf(w, "%s\t%.1f%%\t%d,%d,%d,%d\t%s\n",
				d.Label,
				d.Percent(),
				d.Box.X1, d.Box.Y1, d.Box.X2, d.Box.Y2,
				d.Plate,
			)
		}
		w.Flush()
		fmt.Printf("\n%d detection(s) in %s\n", len(res.Detections), res.Latency.Round(time.Millisecond))
		if res.Persistence != "" {
			fmt.Printf("persistence: %s\n", res.Persistence)
		}
		return nil
	},
}

func writeAnnotated(path string, frame image.Image, dets []detection.Detection) error {
	b := frame.Bounds()
	r := overlay.NewRenderer()
	r.Render(b.Dx(), b.Dy(), dets)

	data, err := capture.EncodeJPEG(r.Composite(frame), capture.DefaultJPEGQuality)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	fmt.Printf("Annotated frame written to %s\n", path)
	return nil
}

func init() {
	rootCmd.AddCommand(detectCmd)
	detectCmd.Flags().StringVar(&annotatePath, "annotate", "", "Write the frame with boxes drawn to this JPEG file")
	detectCmd.Flags().BoolVar(&detectPersist, "persist", false, "Ask the service to persist the result")
}
