package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"

	"github.com/whatsapp-automation/orchestrator/internal/logging"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// deviceStore keeps the companion device credentials of every session.
// With sqlite3 each session owns a database file; with postgres all
// sessions share one container and the paired JID is remembered on disk.
type deviceStore struct {
	dir    string
	driver string
	dsn    string
	log    *logrus.Entry

	mu     sync.Mutex
	shared *sqlstore.Container
}

func newDeviceStore(dir, driver, dsn string, log *logrus.Entry) (*deviceStore, error) {
	if dir == "" {
		dir = DefaultSessionsDir
	}
	if driver == "" {
		driver = "sqlite3"
	}
	if driver != "sqlite3" && driver != "postgres" {
		return nil, fmt.Errorf("unsupported device store driver %q", driver)
	}
	if driver == "postgres" && dsn == "" {
		return nil, errors.New("postgres device store needs a DSN")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create sessions directory: %w", err)
	}
	return &deviceStore{dir: dir, driver: driver, dsn: dsn, log: log}, nil
}

func (d *deviceStore) dbPath(sessionID string) string {
	return filepath.Join(d.dir, sessionID+".db")
}

func (d *deviceStore) jidPath(sessionID string) string {
	return filepath.Join(d.dir, sessionID+".jid")
}

// open returns the device of a session, creating an unpaired one when none
// is stored. release must be called once the client is gone.
func (d *deviceStore) open(ctx context.Context, sessionID string) (*store.Device, func(), error) {
	if d.driver == "sqlite3" {
		dbURI := fmt.Sprintf("file:%s?_foreign_keys=on", d.dbPath(sessionID))
		container, err := sqlstore.New(ctx, "sqlite3", dbURI, logging.WA(d.log, "DB-"+short(sessionID)))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create session store: %w", err)
		}
		device, err := container.GetFirstDevice(ctx)
		if err != nil {
			_ = container.Close()
			return nil, nil, fmt.Errorf("failed to get device: %w", err)
		}
		return device, func() { _ = container.Close() }, nil
	}

	container, err := d.container(ctx)
	if err != nil {
		return nil, nil, err
	}
	jid, ok := d.pairedJID(sessionID)
	if ok {
		device, err := container.GetDevice(ctx, jid)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to get device: %w", err)
		}
		if device != nil {
			return device, func() {}, nil
		}
	}
	return container.NewDevice(), func() {}, nil
}

func (d *deviceStore) container(ctx context.Context) (*sqlstore.Container, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.shared != nil {
		return d.shared, nil
	}
	container, err := sqlstore.New(ctx, "postgres", d.dsn, logging.WA(d.log, "DB"))
	if err != nil {
		return nil, fmt.Errorf("failed to open device store: %w", err)
	}
	d.shared = container
	return container, nil
}

// remember records which device a session paired as. Only the shared
// postgres container needs it.
func (d *deviceStore) remember(sessionID string, jid types.JID) {
	if d.driver != "postgres" {
		return
	}
	if err := os.WriteFile(d.jidPath(sessionID), []byte(jid.String()), 0o600); err != nil {
		d.log.WithError(err).Warnf("[%s] Failed to remember paired device", sessionID)
	}
}

func (d *deviceStore) pairedJID(sessionID string) (types.JID, bool) {
	raw, err := os.ReadFile(d.jidPath(sessionID))
	if err != nil {
		return types.JID{}, false
	}
	jid, err := types.ParseJID(strings.TrimSpace(string(raw)))
	if err != nil {
		return types.JID{}, false
	}
	return jid, true
}

// purge discards every credential stored for a session.
func (d *deviceStore) purge(ctx context.Context, sessionID string) error {
	if d.driver == "sqlite3" {
		for _, suffix := range []string{"", "-wal", "-shm"} {
			if err := os.Remove(d.dbPath(sessionID) + suffix); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("failed to delete session file: %w", err)
			}
		}
		return nil
	}

	if jid, ok := d.pairedJID(sessionID); ok {
		container, err := d.container(ctx)
		if err != nil {
			return err
		}
		device, err := container.GetDevice(ctx, jid)
		if err != nil {
			return fmt.Errorf("failed to get device: %w", err)
		}
		if device != nil {
			if err := device.Delete(ctx); err != nil {
				return fmt.Errorf("failed to delete device: %w", err)
			}
		}
	}
	if err := os.Remove(d.jidPath(sessionID)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (d *deviceStore) close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.shared == nil {
		return nil
	}
	err := d.shared.Close()
	d.shared = nil
	return err
}

func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
