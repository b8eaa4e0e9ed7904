// Package notify implements the external session-notifier collaborator
// (spec.md §4.1) that internal/session.Notifier abstracts over: a sink
// outside the session manager that wants to know when a session's state
// changes. The consumer of these signals (a desktop shell, a login
// greeter) is out of scope; this package only emits them.
package notify

import (
	"context"
	"log/slog"

	"github.com/godbus/dbus/v5"

	"github.com/ogon-project/ogon-sessiond/internal/session"
)

// objectPath and signalInterface name the D-Bus object and interface
// ogon-sessiond emits session-change signals on.
const (
	objectPath      = dbus.ObjectPath("/org/ogon/SessionManager")
	signalInterface = "org.ogon.SessionManager"
	signalName      = signalInterface + ".SessionChanged"
)

// DBusNotifier emits session state-change signals on the D-Bus session
// bus. It satisfies session.Notifier.
type DBusNotifier struct {
	conn   *dbus.Conn
	logger *slog.Logger
}

// NewDBusNotifier connects to the D-Bus session bus and returns a notifier
// that emits on it. Callers must call Close when done.
func NewDBusNotifier(logger *slog.Logger) (*DBusNotifier, error) {
	conn, err := dbus.SessionBus()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DBusNotifier{conn: conn, logger: logger}, nil
}

// NotifySessionChange emits a SessionChanged signal carrying the session
// id and the reason string. It never blocks on a reply: D-Bus signals are
// fire-and-forget.
func (n *DBusNotifier) NotifySessionChange(_ context.Context, sessionID uint32, reason session.ChangeReason) {
	if err := n.conn.Emit(objectPath, signalName, sessionID, reason.String()); err != nil {
		n.logger.Warn("notify: emit session change signal failed",
			slog.Uint64("session_id", uint64(sessionID)),
			slog.String("reason", reason.String()),
			slog.Any("error", err),
		)
	}
}

// Close releases the underlying bus connection.
func (n *DBusNotifier) Close() error {
	return n.conn.Close()
}

// NoopNotifier discards every notification. Used where no external sink
// is configured and in tests that don't care about notifications.
type NoopNotifier struct{}

// NotifySessionChange is a no-op.
func (NoopNotifier) NotifySessionChange(context.Context, uint32, session.ChangeReason) {}

var (
	_ session.Notifier = (*DBusNotifier)(nil)
	_ session.Notifier = NoopNotifier{}
)
