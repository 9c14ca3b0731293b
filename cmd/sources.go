package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/smazurov/pwtexture/internal/relay"
)

// CreateSourcesCmd creates the sources command.
func CreateSourcesCmd() *cobra.Command {
	var opts sessionOptions
	var settle time.Duration
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "sources",
		Short: "List video capture sources on the PipeWire bus",
		Long: `Connects to PipeWire, waits for the registry to announce its objects ` +
			`and prints every video source that textures can be bound to.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := opts.load(cmd)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			b, err := startBridge(ctx, opts.bridgeConfig())
			if err != nil {
				return err
			}
			defer b.Stop()

			logger.Debug("Waiting for registry", "settle", settle)
			select {
			case <-time.After(settle):
			case <-ctx.Done():
				return ctx.Err()
			}

			callCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			defer cancel()
			sources, err := b.Sources(callCtx)
			if err != nil {
				return fmt.Errorf("list sources: %w", err)
			}

			if asJSON {
				return writeSourcesJSON(cmd.OutOrStdout(), sources)
			}
			return writeSourcesTable(cmd.OutOrStdout(), sources)
		},
	}

	opts.bind(cmd)
	cmd.Flags().DurationVar(&settle, "settle", time.Second, "Time to wait for the registry to announce sources")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print sources as JSON")
	return cmd
}

func writeSourcesJSON(w io.Writer, sources []relay.SourceInfo) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if sources == nil {
		sources = []relay.SourceInfo{}
	}
	return enc.Encode(sources)
}

func writeSourcesTable(w io.Writer, sources []relay.SourceInfo) error {
	if len(sources) == 0 {
		_, err := fmt.Fprintln(w, "No video sources found")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCLASS\tNAME\tDESCRIPTION")
	for _, s := range sources {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", s.ID, s.MediaClass, s.Name, s.Description)
	}
	return tw.Flush()
}
