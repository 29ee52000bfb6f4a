package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"telemlink/pkg/protocol"
)

const (
	mockRollAmplitudeDeg  = 35.0
	mockPitchAmplitudeDeg = 25.0
	mockYawAmplitudeDeg   = 40.0

	mockRollFreqHz  = 0.23
	mockPitchFreqHz = 0.31
	mockYawFreqHz   = 0.17

	mockRollPhaseRad  = 0.0
	mockPitchPhaseRad = math.Pi / 3.0
	mockYawPhaseRad   = 2.0 * math.Pi / 3.0

	mockHomeLat = 31.2304
	mockHomeLon = 121.4737

	maxMockHz = 10000
)

type mockOptions struct {
	hz int
	// junkEvery inserts two non-header bytes before every Nth frame.
	junkEvery int
	// corruptEvery flips the checksum of every Nth frame.
	corruptEvery int
}

func (o mockOptions) validate() error {
	if o.hz < 1 || o.hz > maxMockHz {
		return fmt.Errorf("mock: --hz must be between 1 and %d, got %d", maxMockHz, o.hz)
	}
	if o.junkEvery < 0 || o.corruptEvery < 0 {
		return errors.New("mock: --junk-every and --corrupt-every must not be negative")
	}
	return nil
}

func newMockCommand(opts *globalOptions) *cobra.Command {
	var (
		listen string
		layout string
		mock   mockOptions
	)
	cmd := &cobra.Command{
		Use:   "mock",
		Short: "Serve synthetic telemetry frames over TCP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := mock.validate(); err != nil {
				return err
			}
			cfg, log, err := opts.load()
			if err != nil {
				return err
			}
			if listen == "" {
				listen = cfg.Source.Addr
			}
			if layout != "" {
				cfg.Decoder.Layout = layout
			}
			dec, err := cfg.NewDecoder()
			if err != nil {
				return err
			}

			ln, err := net.Listen("tcp", listen)
			if err != nil {
				return fmt.Errorf("mock listen: %w", err)
			}
			log.Info().
				Str("addr", ln.Addr().String()).
				Str("layout", dec.Layout().Name()).
				Int("hz", mock.hz).
				Msg("mock source listening")
			return serveMock(cmd.Context(), ln, protocol.EncoderFor(dec), mock, log)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "TCP listen address (default source.addr)")
	cmd.Flags().StringVar(&layout, "layout", "", "payload layout name (overrides decoder.layout)")
	cmd.Flags().IntVar(&mock.hz, "hz", 50, "frames per second per client")
	cmd.Flags().IntVar(&mock.junkEvery, "junk-every", 0, "insert line noise before every Nth frame, 0 disables")
	cmd.Flags().IntVar(&mock.corruptEvery, "corrupt-every", 0, "corrupt the checksum of every Nth frame, 0 disables")
	return cmd
}

// serveMock accepts clients on ln and streams frames to each until ctx
// ends. It closes ln.
func serveMock(ctx context.Context, ln net.Listener, enc *protocol.Encoder, opts mockOptions, log zerolog.Logger) error {
	stop := context.AfterFunc(ctx, func() {
		_ = ln.Close()
	})
	defer stop()

	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		log.Info().Str("remote", conn.RemoteAddr().String()).Msg("mock client connected")
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer conn.Close()
			err := streamMock(ctx, conn, enc, opts)
			log.Info().Err(err).Str("remote", conn.RemoteAddr().String()).Msg("mock client gone")
		}()
	}
}

func streamMock(ctx context.Context, conn net.Conn, enc *protocol.Encoder, opts mockOptions) error {
	hz := min(max(opts.hz, 1), maxMockHz)
	ticker := time.NewTicker(time.Second / time.Duration(hz))
	defer ticker.Stop()

	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetWriteDeadline(time.Now())
	})
	defer stop()

	start := time.Now()
	buf := make([]byte, 0, 2+enc.FrameSize())
	frame := make([]byte, enc.FrameSize())
	for seq := 1; ; seq++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		elapsed := time.Since(start)
		enc.EncodeInto(frame, mockFrame(elapsed, seq))
		if opts.corruptEvery > 0 && seq%opts.corruptEvery == 0 {
			frame[len(frame)-1] ^= 0xFF
		}

		buf = buf[:0]
		if opts.junkEvery > 0 && seq%opts.junkEvery == 0 {
			buf = append(buf, 0x00, 0x13)
		}
		buf = append(buf, frame...)
		if _, err := conn.Write(buf); err != nil {
			return err
		}
	}
}

func mockEulerAngles(t float64) (roll float64, pitch float64, yaw float64) {
	roll = mockRollAmplitudeDeg * math.Sin(2.0*math.Pi*mockRollFreqHz*t+mockRollPhaseRad)
	pitch = mockPitchAmplitudeDeg * math.Sin(2.0*math.Pi*mockPitchFreqHz*t+mockPitchPhaseRad)
	yaw = mockYawAmplitudeDeg * math.Sin(2.0*math.Pi*mockYawFreqHz*t+mockYawPhaseRad)
	return
}

// mockFrame is a slow loiter around a fixed home point. Fields the active
// layout does not carry are ignored by the encoder.
func mockFrame(elapsed time.Duration, seq int) protocol.Frame {
	t := elapsed.Seconds()
	roll, pitch, yaw := mockEulerAngles(t)
	heading := math.Mod(t*6.0, 360.0)
	rad := heading * math.Pi / 180.0
	alt := 120.0 + 5.0*math.Sin(2.0*math.Pi*0.05*t)

	values := map[string]float64{
		protocol.FieldRoll:           roll,
		protocol.FieldPitch:          pitch,
		protocol.FieldYaw:            yaw,
		protocol.FieldAccelX:         0.2 * math.Sin(roll*math.Pi/180.0),
		protocol.FieldAccelY:         -0.2 * math.Sin(pitch*math.Pi/180.0),
		protocol.FieldAccelZ:         9.81,
		protocol.FieldPressure:       1013 - alt/8.3,
		protocol.FieldBaroAltitude:   alt,
		protocol.FieldLatitude:       mockHomeLat + 0.0005*math.Cos(rad),
		protocol.FieldLongitude:      mockHomeLon + 0.0005*math.Sin(rad),
		protocol.FieldGPSAltitude:    alt + 1.5,
		protocol.FieldSpeed:          12.5,
		protocol.FieldHeading:        heading,
		protocol.FieldSatellites:     14,
		protocol.FieldGPSFix:         3,
		protocol.FieldHDOP:           0.9,
		protocol.FieldServoOnline:    0x0F,
		protocol.FieldTargetX:        320 + 40*math.Sin(t),
		protocol.FieldTargetY:        240 + 30*math.Cos(t),
		protocol.FieldTargetW:        64,
		protocol.FieldTargetH:        48,
		protocol.FieldBatteryPercent: math.Max(0, 100-t/36),
		protocol.FieldCharging:       0,
		protocol.FieldBatteryMV:      16800 - t*0.5,
		protocol.FieldTemperature:    38.5 + 0.01*float64(seq%100),
	}
	for ch := 1; ch <= protocol.ServoChannels; ch++ {
		cmd := 30.0 * math.Sin(2.0*math.Pi*0.2*t+float64(ch))
		values[fmt.Sprintf("%s_%d", protocol.FieldServoCmd, ch)] = cmd
		values[fmt.Sprintf("%s_%d", protocol.FieldServoFb, ch)] = cmd * 0.97
	}

	return protocol.Frame{
		Timestamp: uint32(elapsed.Milliseconds()),
		Values:    values,
	}
}
