// Command linksim plays the companion computer's side of the bridge link
// for bench testing: it streams velocity command frames over a serial port
// and prints the telemetry the robot sends back.
package main

import (
	"context"
	"flag"
	"log"
	"math"
	"os/signal"
	"syscall"
	"time"

	"github.com/Autonomous-VEXU/v5-bridge/internal/link"
	"github.com/Autonomous-VEXU/v5-bridge/internal/wire"
)

var (
	portPath = flag.String("port", "/dev/ttyACM1", "Serial port for the robot link")
	baud     = flag.Int("baud", 115200, "Baud rate")
	rate     = flag.Duration("rate", 50*time.Millisecond, "Interval between command frames")
	linear   = flag.Float64("linear", 0.5, "Linear velocity to command, m/s")
	angular  = flag.Float64("angular", 0, "Angular velocity to command, rad/s")
	weave    = flag.Bool("weave", false, "Modulate the angular command with a slow sine")
	duration = flag.Duration("duration", 0, "Stop after this long (0 runs until interrupted)")
	verbose  = flag.Bool("v", false, "Print every telemetry frame instead of one per second")
)

func main() {
	flag.Parse()

	mode := link.DefaultMode()
	mode.BaudRate = *baud
	port, err := link.Open(*portPath, mode)
	if err != nil {
		log.Fatalf("open %s: %v", *portPath, err)
	}
	defer port.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if *duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	go readTelemetry(ctx, port)

	log.Printf("commanding linear=%.2f m/s angular=%.2f rad/s every %s on %s",
		*linear, *angular, *rate, *portPath)

	ticker := time.NewTicker(*rate)
	defer ticker.Stop()

	var seq uint32
	start := time.Now()
	for {
		select {
		case <-ctx.Done():
			// A final zero command so the robot does not wait out its
			// watchdog with the last velocity still applied.
			frame, _ := wire.EncodeFrame(wire.EncodeCommand(wire.Command{Seq: seq + 1}))
			port.Write(frame)
			return
		case <-ticker.C:
			seq++
			ang := *angular
			if *weave {
				ang = *angular * math.Sin(time.Since(start).Seconds()/2)
			}
			frame, err := wire.EncodeFrame(wire.EncodeCommand(wire.Command{
				Seq:     seq,
				Linear:  *linear,
				Angular: ang,
			}))
			if err != nil {
				log.Fatalf("encode: %v", err)
			}
			if _, err := port.Write(frame); err != nil {
				log.Fatalf("write: %v", err)
			}
		}
	}
}

// readTelemetry drains the port, reassembles telemetry frames and logs
// them. Decode errors are counted rather than printed; a noisy line
// otherwise drowns the useful output.
func readTelemetry(ctx context.Context, port link.Port) {
	var (
		dec     wire.Decoder
		buf     = make([]byte, 256)
		lastLog time.Time
		lastTel wire.Telemetry
		haveTel bool
		frames  int
		badFmt  int
	)
	for ctx.Err() == nil {
		n, err := port.Read(buf)
		if err != nil {
			log.Printf("read: %v", err)
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
				badFmt++
				continue
			}
			frames++
			lastTel, haveTel = tel, true
			if *verbose {
				logTelemetry(tel, frames, dec.Stats(), badFmt)
			}
		}
		if !*verbose && haveTel && time.Since(lastLog) >= time.Second {
			lastLog = time.Now()
			logTelemetry(lastTel, frames, dec.Stats(), badFmt)
		}
	}
}

func logTelemetry(tel wire.Telemetry, frames int, stats wire.DecodeStats, badFmt int) {
	log.Printf("pose x=%+.3f y=%+.3f heading=%+.3f v=%+.2f w=%+.2f state=%s frames=%d sync_err=%d cksum_err=%d malformed=%d",
		tel.X, tel.Y, tel.Heading, tel.Linear, tel.Angular, tel.State,
		frames, stats.SyncErrors, stats.ChecksumErrors, badFmt)
}
