// Command bridged runs the robot-side command/telemetry bridge: it owns
// the companion serial link, drives the motors from decoded velocity
// commands, and streams pose telemetry back, with a watchdog holding the
// robot safe whenever the link goes quiet.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"math"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/Autonomous-VEXU/v5-bridge/internal/bridge"
	"github.com/Autonomous-VEXU/v5-bridge/internal/config"
	"github.com/Autonomous-VEXU/v5-bridge/internal/hal"
	"github.com/Autonomous-VEXU/v5-bridge/internal/link"
	"github.com/Autonomous-VEXU/v5-bridge/internal/timeutil"
	"github.com/Autonomous-VEXU/v5-bridge/internal/version"
	"github.com/Autonomous-VEXU/v5-bridge/internal/wire"
)

var (
	configPath = flag.String("config", "", "Path to JSON config file (defaults apply when empty)")
	serialPort = flag.String("port", "", "Serial port for the companion link (overrides config)")
	listen     = flag.String("listen", "localhost:8081", "Debug HTTP listen address (empty disables)")
	devMode    = flag.Bool("dev", false, "Run against a simulated drivetrain and an in-process companion")
)

func main() {
	flag.Parse()
	log.Printf("bridged %s", version.String())

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if *serialPort != "" {
		cfg.SerialPort = *serialPort
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := timeutil.RealClock{}

	var port link.Port
	if *devMode {
		robotEnd, companionEnd := link.NewLoopback()
		port = robotEnd
		go runDevCompanion(ctx, companionEnd)
		log.Printf("dev mode: loopback link with in-process companion")
	} else {
		mode := link.DefaultMode()
		mode.BaudRate = cfg.BaudRate
		port, err = link.Open(cfg.SerialPort, mode)
		if err != nil {
			log.Fatalf("open link: %v", err)
		}
		log.Printf("companion link on %s at %d baud", cfg.SerialPort, cfg.BaudRate)
	}
	defer port.Close()

	// The in-tree build runs against the simulated drivetrain; hardware
	// deployments swap in their hal.Drivetrain adapter here.
	drivetrain := hal.NewSimDrivetrain(hal.SimParams{
		TicksPerMeter: cfg.TicksPerMeter,
		MaxWheelSpeed: cfg.MaxWheelSpeed,
		TrackWidth:    cfg.TrackWidth,
		LeftChannels:  cfg.LeftChannels,
		RightChannels: cfg.RightChannels,
	}, clock)

	b, err := bridge.New(bridge.Params{
		Config:  cfg,
		Port:    port,
		Motors:  drivetrain,
		Sensors: drivetrain,
		Clock:   clock,
	})
	if err != nil {
		log.Fatalf("bridge: %v", err)
	}

	if *listen != "" {
		mux := http.NewServeMux()
		b.AttachDebugRoutes(mux)
		go func() {
			log.Printf("debug routes on http://%s/debug/", *listen)
			if err := http.ListenAndServe(*listen, mux); err != nil {
				log.Printf("debug server: %v", err)
			}
		}()
	}

	if err := b.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("bridge stopped: %v", err)
	}
	log.Printf("bridge session %s shut down", b.Session())
}

// runDevCompanion plays the companion computer over the loopback link:
// it streams a gentle weaving drive and logs the telemetry coming back.
func runDevCompanion(ctx context.Context, port link.Port) {
	send := time.NewTicker(100 * time.Millisecond)
	defer send.Stop()
	poll := time.NewTicker(20 * time.Millisecond)
	defer poll.Stop()

	var (
		seq    uint32
		frames int
		dec    wire.Decoder
		buf    = make([]byte, 256)
		start  = time.Now()
	)
	for {
		select {
		case <-ctx.Done():
			return

		case <-send.C:
			seq++
			t := time.Since(start).Seconds()
			frame, err := wire.EncodeFrame(wire.EncodeCommand(wire.Command{
				Seq:     seq,
				Linear:  0.4,
				Angular: 1.2 * math.Sin(t/2),
			}))
			if err != nil {
				log.Printf("companion: encode: %v", err)
				continue
			}
			if _, err := port.Write(frame); err != nil {
				log.Printf("companion: write: %v", err)
				return
			}

		case <-poll.C:
			n, err := port.Read(buf)
			if err != nil {
				log.Printf("companion: read: %v", err)
				return
			}
			if n == 0 {
				continue
			}
			dec.Feed(buf[:n])
			for {
				payload, err := dec.Next()
				if err != nil {
					continue
				}
				if payload == nil {
					break
				}
				tel, err := wire.ParseTelemetry(payload)
				if err != nil {
					continue
				}
				frames++
				if frames%50 == 0 {
					log.Printf("companion: pose x=%.3f y=%.3f heading=%.3f state=%s",
						tel.X, tel.Y, tel.Heading, tel.State)
				}
			}
		}
	}
}
