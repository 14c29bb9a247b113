package hostevents

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/nerrad567/gray-logic-lightlink/internal/connection"
)

const defaultPollInterval = 5 * time.Second

// Notifier receives host events. *connection.Monitor implements it.
type Notifier interface {
	Notify(ev connection.Event)
}

// Logger is the subset of logging.Logger used here.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}

// InterfaceLister returns the host's network interfaces as stable strings.
type InterfaceLister func() ([]string, error)

// Config configures a Watcher.
type Config struct {
	// Signals maps SIGUSR1 to EventScreenUnlocked and SIGUSR2 to
	// EventNetworkChanged.
	Signals bool

	// NetworkWatch polls the interface list and reports changes.
	NetworkWatch bool

	// PollInterval is the interface poll period. Default: 5s.
	PollInterval time.Duration

	// Lister overrides the interface source. Default: SystemInterfaces.
	Lister InterfaceLister

	Clock  clock.Clock
	Logger Logger
}

// Watcher turns host signals and network changes into monitor events.
type Watcher struct {
	notify Notifier
	cfg    Config

	wg sync.WaitGroup
}

// New creates a Watcher feeding n.
func New(n Notifier, cfg Config) *Watcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.Lister == nil {
		cfg.Lister = SystemInterfaces
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = noopLogger{}
	}
	return &Watcher{notify: n, cfg: cfg}
}

// Start launches the enabled watchers. They stop when ctx is cancelled;
// Wait blocks until they have.
func (w *Watcher) Start(ctx context.Context) {
	if w.cfg.Signals {
		sigCh := make(chan os.Signal, 4)
		signal.Notify(sigCh, syscall.SIGUSR1, syscall.SIGUSR2)
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			defer signal.Stop(sigCh)
			w.watchSignals(ctx, sigCh)
		}()
	}
	if w.cfg.NetworkWatch {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.watchNetwork(ctx)
		}()
	}
}

// Wait blocks until every watcher goroutine has returned.
func (w *Watcher) Wait() {
	w.wg.Wait()
}

func (w *Watcher) watchSignals(ctx context.Context, sigCh <-chan os.Signal) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigCh:
			kind, ok := signalEvent(sig)
			if !ok {
				continue
			}
			w.cfg.Logger.Info("host event", "event", kind.String(), "signal", sig.String())
			w.notify.Notify(connection.Event{Kind: kind, At: w.cfg.Clock.Now(), Detail: sig.String()})
		}
	}
}

func signalEvent(sig os.Signal) (connection.EventKind, bool) {
	switch sig {
	case syscall.SIGUSR1:
		return connection.EventScreenUnlocked, true
	case syscall.SIGUSR2:
		return connection.EventNetworkChanged, true
	default:
		return 0, false
	}
}

func (w *Watcher) watchNetwork(ctx context.Context) {
	last, err := w.fingerprint()
	if err != nil {
		w.cfg.Logger.Warn("listing network interfaces failed", "error", err)
	}

	ticker := w.cfg.Clock.Ticker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			current, err := w.fingerprint()
			if err != nil {
				w.cfg.Logger.Debug("listing network interfaces failed", "error", err)
				continue
			}
			if current == last {
				continue
			}
			detail := diff(last, current)
			last = current
			w.cfg.Logger.Info("network changed", "detail", detail)
			w.notify.Notify(connection.Event{
				Kind:   connection.EventNetworkChanged,
				At:     w.cfg.Clock.Now(),
				Detail: detail,
			})
		}
	}
}

func (w *Watcher) fingerprint() (string, error) {
	ifaces, err := w.cfg.Lister()
	if err != nil {
		return "", err
	}
	sorted := append([]string(nil), ifaces...)
	sort.Strings(sorted)
	return strings.Join(sorted, "\n"), nil
}

// diff names the interface lines that appeared or vanished.
func diff(before, after string) string {
	old := make(map[string]bool)
	for _, l := range strings.Split(before, "\n") {
		if l != "" {
			old[l] = true
		}
	}
	var added, removed []string
	for _, l := range strings.Split(after, "\n") {
		if l == "" {
			continue
		}
		if old[l] {
			delete(old, l)
			continue
		}
		added = append(added, l)
	}
	for l := range old {
		removed = append(removed, l)
	}
	sort.Strings(removed)
	return fmt.Sprintf("added=%v removed=%v", added, removed)
}

// SystemInterfaces lists up, non-loopback interfaces with their addresses.
func SystemInterfaces() ([]string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("listing interfaces: %w", err)
	}

	var out []string
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		names := make([]string, 0, len(addrs))
		for _, a := range addrs {
			names = append(names, a.String())
		}
		sort.Strings(names)
		out = append(out, iface.Name+" "+strings.Join(names, ","))
	}
	return out, nil
}
