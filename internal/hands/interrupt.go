package hands

import (
	"os"
	"sync"
	"syscall"
	"time"

	"mindloop/internal/config"
	"mindloop/internal/logging"
)

// interrupter shuts an agent process down with escalating signals when a
// high-risk marker appears mid-stream: interrupt, then terminate, then kill,
// each after its configured wait window. The escalation runs at most once per
// process and stops as soon as the process exits.
type interrupter struct {
	proc    *os.Process
	enabled bool
	delays  []time.Duration

	mu      sync.Mutex
	started bool
	done    chan struct{}
}

func newInterrupter(proc *os.Process, cfg config.HandsConfig) *interrupter {
	delays := make([]time.Duration, 0, len(cfg.EscalationDelays))
	for _, d := range cfg.EscalationDelays {
		delays = append(delays, d.Std())
	}
	if len(delays) == 0 {
		delays = []time.Duration{0, 5 * time.Second, 10 * time.Second}
	}
	return &interrupter{
		proc:    proc,
		enabled: cfg.InterruptMode == "on_high_risk",
		delays:  delays,
		done:    make(chan struct{}),
	}
}

// onHighRisk begins the escalation sequence. Safe to call from multiple
// stream pumps; only the first call starts it.
func (i *interrupter) onHighRisk() {
	if !i.enabled || i.proc == nil {
		return
	}
	i.mu.Lock()
	if i.started {
		i.mu.Unlock()
		return
	}
	i.started = true
	i.mu.Unlock()

	logging.Get(logging.CategoryHands).Warnw("high-risk marker seen, interrupting agent", "pid", i.proc.Pid)
	go i.escalate()
}

func (i *interrupter) escalate() {
	signals := []syscall.Signal{syscall.SIGINT, syscall.SIGTERM, syscall.SIGKILL}
	for idx, sig := range signals {
		var wait time.Duration
		if idx < len(i.delays) {
			wait = i.delays[idx]
		}
		select {
		case <-i.done:
			return
		case <-time.After(wait):
		}
		if err := i.proc.Signal(sig); err != nil {
			// Process already gone.
			return
		}
		logging.Get(logging.CategoryHands).Warnw("signal sent", "signal", sig.String(), "pid", i.proc.Pid)
	}
}

// stop ends any pending escalation; called after the process has exited.
func (i *interrupter) stop() {
	i.mu.Lock()
	defer i.mu.Unlock()
	select {
	case <-i.done:
	default:
		close(i.done)
	}
}

// fired reports whether the escalation sequence started.
func (i *interrupter) fired() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.started
}
