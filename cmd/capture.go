package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"image/png"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/smazurov/pwtexture/internal/bridge"
	"github.com/smazurov/pwtexture/internal/directory"
	"github.com/smazurov/pwtexture/internal/texture"
)

// CreateCaptureCmd creates the capture command.
func CreateCaptureCmd() *cobra.Command {
	var opts sessionOptions
	var frames int
	var outDir string
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "capture <source-id>",
		Short: "Write frames of one source to disk",
		Long: `Binds a texture to the given source and writes its next frames to the ` +
			`output directory. Packed RGB frames are written as PNG, other layouts as raw dumps.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[0], 10, 32)
			if err != nil {
				return fmt.Errorf("invalid source id %q: %w", args[0], err)
			}
			sourceID := uint32(id)

			logger := opts.load(cmd).With("source_id", sourceID)
			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return fmt.Errorf("create output directory: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			b, err := startBridge(ctx, opts.bridgeConfig())
			if err != nil {
				return err
			}
			defer b.Stop()

			h, err := b.CreateTexture(ctx, "capture", sourceID)
			if err != nil {
				return fmt.Errorf("bind source %d: %w", sourceID, err)
			}

			c := &capturer{bridge: b, handle: h, sourceID: sourceID, outDir: outDir, logger: logger}
			written, err := c.run(ctx, frames)
			for _, path := range written {
				fmt.Fprintln(cmd.OutOrStdout(), path)
			}
			if errors.Is(err, context.DeadlineExceeded) {
				return fmt.Errorf("captured %d of %d frames before timeout", len(written), frames)
			}
			return err
		},
	}

	opts.bind(cmd)
	cmd.Flags().IntVarP(&frames, "frames", "n", 1, "Number of frames to write")
	cmd.Flags().StringVarP(&outDir, "out", "o", ".", "Output directory")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "Give up after this long")
	return cmd
}

type capturer struct {
	bridge   *bridge.Bridge
	handle   directory.Handle
	sourceID uint32
	outDir   string
	logger   *slog.Logger
}

// run writes n distinct frames and returns the written paths.
func (c *capturer) run(ctx context.Context, n int) ([]string, error) {
	var written []string
	var last uint64

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for len(written) < n {
		select {
		case <-ctx.Done():
			return written, ctx.Err()
		case <-ticker.C:
		}

		snap, err := c.bridge.Snapshot(ctx, c.handle)
		if errors.Is(err, texture.ErrNoFrame) {
			continue
		}
		if err != nil {
			return written, err
		}
		if snap.Frame == last {
			continue
		}
		last = snap.Frame

		path, err := c.write(snap)
		if err != nil {
			return written, err
		}
		c.logger.Info("Frame written", "path", path, "frame", snap.Frame, "params", snap.Params.String())
		written = append(written, path)
	}
	return written, nil
}

func (c *capturer) write(snap texture.Snapshot) (string, error) {
	base := filepath.Join(c.outDir, fmt.Sprintf("source-%d-%06d", c.sourceID, snap.Frame))

	img, err := snap.Image()
	if errors.Is(err, texture.ErrUnsupportedFormat) {
		path := fmt.Sprintf("%s-%dx%d.%s", base, snap.Params.Width, snap.Params.Height, snap.Params.Source)
		return path, os.WriteFile(path, snap.Data, 0o644)
	}
	if err != nil {
		return "", fmt.Errorf("render frame %d: %w", snap.Frame, err)
	}
	path := base + ".png"
	return path, writeFile(path, func(w *bufio.Writer) error { return png.Encode(w, img) })
}

func writeFile(path string, fill func(*bufio.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	if err := fill(w); err != nil {
		f.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
