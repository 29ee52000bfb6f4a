package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/spf13/cobra"

	"telemlink/pkg/bridge/feed"
	"telemlink/pkg/engine"
	"telemlink/pkg/logger"
	"telemlink/pkg/transport"
)

func newServeCommand(opts *globalOptions) *cobra.Command {
	var (
		sourceAddr    string
		feedAddr      string
		layout        string
		jsonlPath     string
		statsInterval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Read frames from a TCP source and serve decoded records over websocket",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := opts.load()
			if err != nil {
				return err
			}
			if sourceAddr != "" {
				cfg.Source.Addr = sourceAddr
			}
			if feedAddr != "" {
				cfg.Feed.Addr = feedAddr
			}
			if layout != "" {
				cfg.Decoder.Layout = layout
			}

			dec, err := cfg.NewDecoder()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			hub := engine.NewHub()
			go hub.Run(ctx)

			history := engine.NewHistory(cfg.Feed.History)
			go history.Consume(ctx, hub.Subscribe())

			if jsonlPath != "" {
				var out io.Writer = cmd.OutOrStdout()
				if jsonlPath != "-" {
					file, err := os.Create(jsonlPath)
					if err != nil {
						return fmt.Errorf("open jsonl output: %w", err)
					}
					defer file.Close()
					out = file
				}
				writer := logger.NewJSONLWriter(out)
				sub := hub.SubscribeWithBuffer(cfg.Feed.History)
				go func() {
					if err := writer.Consume(ctx, sub); err != nil {
						log.Error().Err(err).Msg("jsonl output failed")
					}
				}()
			}

			pipeline := engine.NewPipeline(dec, hub,
				engine.WithLogger(log.With().Str("component", "decoder").Logger()),
				engine.WithStatsInterval(statsInterval),
			)

			chunks := make(chan []byte, cfg.Source.Buf)
			reconnect, reconnectMax, dial, read := cfg.Source.Durations()
			srcLog := log.With().Str("component", "source").Str("addr", cfg.Source.Addr).Logger()
			transport.StartListener(ctx, cfg.Source.Addr, chunks,
				transport.WithReconnectInterval(reconnect),
				transport.WithReconnectMax(reconnectMax),
				transport.WithDialTimeout(dial),
				transport.WithReadTimeout(read),
				transport.WithBufferSize(cfg.Source.ReaderBuf),
				transport.WithErrorHandler(func(err error) {
					srcLog.Warn().Err(err).Msg("source unavailable")
				}),
				transport.WithConnectHandler(func(remote net.Addr) {
					srcLog.Info().Str("remote", remote.String()).Msg("source connected")
				}),
			)
			go pipeline.Run(ctx, chunks)

			server := feed.NewServer(feed.Config{
				Addr:    cfg.Feed.Addr,
				SendBuf: cfg.Feed.SendBuf,
			}, hub, dec.Layout(),
				feed.WithLogger(log.With().Str("component", "feed").Logger()),
				feed.WithHistory(history),
				feed.WithStats(pipeline),
			)

			log.Info().
				Str("layout", dec.Layout().Name()).
				Int("frame_size", dec.FrameSize()).
				Str("source", cfg.Source.Addr).
				Str("feed", cfg.Feed.Addr).
				Msg("telemd serving")
			return server.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&sourceAddr, "addr", "", "TCP byte source to dial (overrides source.addr)")
	cmd.Flags().StringVar(&feedAddr, "feed-addr", "", "websocket feed listen address (overrides feed.addr)")
	cmd.Flags().StringVar(&layout, "layout", "", "payload layout name (overrides decoder.layout)")
	cmd.Flags().StringVar(&jsonlPath, "jsonl", "", "also write records as JSONL to this file, - for stdout")
	cmd.Flags().DurationVar(&statsInterval, "stats-interval", 10*time.Second, "decoder stats log interval, 0 disables")
	return cmd
}
