package consumers

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/godbus/dbus/v5"
)

const (
	systemdDest    = "org.freedesktop.systemd1"
	systemdPath    = dbus.ObjectPath("/org/freedesktop/systemd1")
	systemdManager = "org.freedesktop.systemd1.Manager"
)

// unitBus is the part of systemd's D-Bus API the manager needs
type unitBus interface {
	ActiveState(ctx context.Context, unit string) (string, error)
	StopUnit(ctx context.Context, unit string) error
	StartUnit(ctx context.Context, unit string) error
	Close() error
}

// SystemdManager stops and starts a fixed list of systemd units
type SystemdManager struct {
	units []string
	bus   unitBus
	open  func() (unitBus, error)
}

// NewSystemdManager manages units over the system bus. bus may be nil, in
// which case a private system bus connection is opened on first use.
func NewSystemdManager(units []string, bus unitBus) *SystemdManager {
	return &SystemdManager{units: units, bus: bus, open: connectSystemBus}
}

func (s *SystemdManager) Name() string {
	return "systemd"
}

func (s *SystemdManager) connection() (unitBus, error) {
	if s.bus != nil {
		return s.bus, nil
	}
	bus, err := s.open()
	if err != nil {
		return nil, err
	}
	s.bus = bus
	return bus, nil
}

// Check connects to the system bus
func (s *SystemdManager) Check(ctx context.Context) error {
	_, err := s.connection()
	return err
}

// Running returns the configured units that are active or activating
func (s *SystemdManager) Running(ctx context.Context) ([]string, error) {
	bus, err := s.connection()
	if err != nil {
		return nil, err
	}

	var running []string
	for _, unit := range s.units {
		state, err := bus.ActiveState(ctx, unit)
		if err != nil {
			log.Printf("[Consumers] Unit %s not loaded: %v", unit, err)
			continue
		}
		if state == "active" || state == "activating" || state == "reloading" {
			running = append(running, unit)
		}
	}
	return running, nil
}

// Stop stops units in order and stops at the first failure
func (s *SystemdManager) Stop(ctx context.Context, names []string) error {
	bus, err := s.connection()
	if err != nil {
		return err
	}
	for _, unit := range names {
		if err := bus.StopUnit(ctx, unit); err != nil {
			return fmt.Errorf("stop %s: %w", unit, err)
		}
	}
	return nil
}

// Start starts every unit and reports all failures together
func (s *SystemdManager) Start(ctx context.Context, names []string) error {
	bus, err := s.connection()
	if err != nil {
		return err
	}
	var errs []error
	for _, unit := range names {
		if err := bus.StartUnit(ctx, unit); err != nil {
			errs = append(errs, fmt.Errorf("start %s: %w", unit, err))
		}
	}
	return errors.Join(errs...)
}

// Close releases the bus connection
func (s *SystemdManager) Close() error {
	if s.bus == nil {
		return nil
	}
	return s.bus.Close()
}

// dbusUnitBus talks to systemd over a private system bus connection
type dbusUnitBus struct {
	conn *dbus.Conn
}

func connectSystemBus() (unitBus, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("system bus: %w", err)
	}
	if call := conn.Object(systemdDest, systemdPath).Call(systemdManager+".Subscribe", 0); call.Err != nil {
		conn.Close()
		return nil, fmt.Errorf("subscribe to systemd: %w", call.Err)
	}
	return &dbusUnitBus{conn: conn}, nil
}

func (b *dbusUnitBus) ActiveState(ctx context.Context, unit string) (string, error) {
	path, err := b.unitPath(ctx, unit)
	if err != nil {
		return "", err
	}
	variant, err := b.conn.Object(systemdDest, path).GetProperty("org.freedesktop.systemd1.Unit.ActiveState")
	if err != nil {
		return "", err
	}
	state, _ := variant.Value().(string)
	return state, nil
}

func (b *dbusUnitBus) unitPath(ctx context.Context, unit string) (dbus.ObjectPath, error) {
	var path dbus.ObjectPath
	call := b.conn.Object(systemdDest, systemdPath).CallWithContext(ctx, systemdManager+".GetUnit", 0, unit)
	if err := call.Store(&path); err != nil {
		return "", err
	}
	return path, nil
}

func (b *dbusUnitBus) StopUnit(ctx context.Context, unit string) error {
	return b.runJob(ctx, "StopUnit", unit)
}

func (b *dbusUnitBus) StartUnit(ctx context.Context, unit string) error {
	return b.runJob(ctx, "StartUnit", unit)
}

// runJob queues a unit job and waits for its JobRemoved signal
func (b *dbusUnitBus) runJob(ctx context.Context, method, unit string) error {
	if err := b.conn.AddMatchSignal(
		dbus.WithMatchInterface(systemdManager),
		dbus.WithMatchMember("JobRemoved"),
	); err != nil {
		return fmt.Errorf("add match: %w", err)
	}
	defer b.conn.RemoveMatchSignal(
		dbus.WithMatchInterface(systemdManager),
		dbus.WithMatchMember("JobRemoved"),
	)

	signals := make(chan *dbus.Signal, 64)
	b.conn.Signal(signals)
	defer b.conn.RemoveSignal(signals)

	var job dbus.ObjectPath
	call := b.conn.Object(systemdDest, systemdPath).CallWithContext(ctx, systemdManager+"."+method, 0, unit, "replace")
	if err := call.Store(&job); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sig := <-signals:
			if sig == nil || sig.Name != systemdManager+".JobRemoved" || len(sig.Body) < 4 {
				continue
			}
			if path, _ := sig.Body[1].(dbus.ObjectPath); path != job {
				continue
			}
			result, _ := sig.Body[3].(string)
			if result != "done" {
				return fmt.Errorf("job %s finished with result %q", method, result)
			}
			return nil
		}
	}
}

func (b *dbusUnitBus) Close() error {
	return b.conn.Close()
}
