package bridge

import (
	"encoding/json"
	"net/http"
	"sync"

	"tailscale.com/tsweb"

	"github.com/Autonomous-VEXU/v5-bridge/internal/odometry"
	"github.com/Autonomous-VEXU/v5-bridge/internal/version"
	"github.com/Autonomous-VEXU/v5-bridge/internal/wire"
)

// Snapshot is a read-only view of the bridge published once per tick for
// the status surface. It is a copy; holding one never blocks the loop.
type Snapshot struct {
	Version string `json:"version"`
	Session string `json:"session"`
	State   string `json:"state"`
	Tick    uint64 `json:"tick"`

	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Heading float64 `json:"heading"`
	Linear  float64 `json:"linear"`
	Angular float64 `json:"angular"`

	LastSeq       uint32  `json:"last_seq"`
	CmdLinear     float64 `json:"cmd_linear"`
	CmdAngular    float64 `json:"cmd_angular"`
	SilentTicks   int     `json:"silent_ticks"`
	LastValidTick uint64  `json:"last_valid_tick"`

	Counters Counters         `json:"counters"`
	Decode   wire.DecodeStats `json:"decode"`
}

// snapshotHolder hands tick-published snapshots to concurrent readers.
// It is the only piece of bridge state touched from outside the loop.
type snapshotHolder struct {
	mu   sync.Mutex
	snap Snapshot
}

func (h *snapshotHolder) set(s Snapshot) {
	h.mu.Lock()
	h.snap = s
	h.mu.Unlock()
}

func (h *snapshotHolder) get() Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.snap
}

// Snapshot returns the most recently published view of the bridge. Safe to
// call from any goroutine.
func (b *Bridge) Snapshot() Snapshot {
	return b.snapshot.get()
}

// publishSnapshot is called at the end of every tick, inside the loop.
func (b *Bridge) publishSnapshot(pose odometry.Pose) {
	b.snapshot.set(Snapshot{
		Version:       version.String(),
		Session:       b.session.String(),
		State:         b.state.String(),
		Tick:          b.tick,
		X:             pose.X,
		Y:             pose.Y,
		Heading:       pose.Heading,
		Linear:        pose.Linear,
		Angular:       pose.Angular,
		LastSeq:       b.lastSeq,
		CmdLinear:     b.cmd.Linear,
		CmdAngular:    b.cmd.Angular,
		SilentTicks:   b.health.consecutiveFailures,
		LastValidTick: b.health.lastValidTick,
		Counters:      b.counters,
		Decode:        b.dec.Stats(),
	})
}

// AttachDebugRoutes attaches the bridge status endpoints under /debug/.
// The listener is expected to be localhost-only; these routes are for an
// operator standing next to the robot, not for the companion link.
func (b *Bridge) AttachDebugRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.Handle("bridge-status", "current bridge state, pose and counters", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		enc.Encode(b.Snapshot())
	}))
}
