package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"telemlink/pkg/engine"
	"telemlink/pkg/logger"
	"telemlink/pkg/protocol"
	"telemlink/pkg/transport"
)

func newDecodeCommand(opts *globalOptions, stdout io.Writer) *cobra.Command {
	var (
		layout    string
		outPath   string
		chunkSize int
	)
	cmd := &cobra.Command{
		Use:   "decode [capture-file|-]",
		Short: "Decode a recorded byte stream to JSONL",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := opts.load()
			if err != nil {
				return err
			}
			if layout != "" {
				cfg.Decoder.Layout = layout
			}
			dec, err := cfg.NewDecoder()
			if err != nil {
				return err
			}

			var in io.Reader = cmd.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				file, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("open capture: %w", err)
				}
				defer file.Close()
				in = file
			}

			out := stdout
			if outPath != "" && outPath != "-" {
				file, err := os.Create(outPath)
				if err != nil {
					return fmt.Errorf("open output: %w", err)
				}
				defer file.Close()
				out = file
			}

			stats, err := decodeStream(cmd.Context(), dec, in, out, chunkSize)
			if err != nil {
				return err
			}
			log.Info().
				Str("layout", dec.Layout().Name()).
				Uint64("accepted", stats.Accepted).
				Uint64("rejected", stats.Rejected).
				Uint64("false_headers", stats.FalseHeaders).
				Uint64("resync_drops", stats.ResyncDrops).
				Uint64("dropped_bytes", stats.DroppedBytes).
				Msg("decode finished")
			return nil
		},
	}
	cmd.Flags().StringVar(&layout, "layout", "", "payload layout name (overrides decoder.layout)")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "JSONL output file (default stdout)")
	cmd.Flags().IntVar(&chunkSize, "chunk", 4096, "read size; decoding does not depend on it")
	return cmd
}

// decodeStream runs in through a pipeline and writes every record. It
// returns once the input is exhausted.
func decodeStream(ctx context.Context, dec *protocol.Decoder, in io.Reader, out io.Writer, chunkSize int) (protocol.Stats, error) {
	writer := logger.NewJSONLWriter(out)
	pipeline := engine.NewPipeline(dec, nil,
		engine.WithStatsInterval(0),
		engine.WithRecordHook(func(recs []protocol.Record) {
			for _, rec := range recs {
				_ = writer.Write(rec)
			}
		}),
	)

	chunks := make(chan []byte, 16)
	done := make(chan struct{})
	go func() {
		pipeline.Run(ctx, chunks)
		close(done)
	}()

	_, readErr := transport.ReadChunks(ctx, in, chunks, chunkSize)
	close(chunks)
	<-done

	if readErr != nil {
		return pipeline.Stats(), fmt.Errorf("read capture: %w", readErr)
	}
	if err := writer.Err(); err != nil {
		return pipeline.Stats(), fmt.Errorf("write records: %w", err)
	}
	return pipeline.Stats(), nil
}
