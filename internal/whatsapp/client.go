// Package whatsapp is the whatsmeow transport: one client per session,
// each dialing through the session's proxy.
package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waCompanionReg"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"

	"github.com/whatsapp-automation/orchestrator/internal/fingerprint"
	"github.com/whatsapp-automation/orchestrator/internal/logging"
	"github.com/whatsapp-automation/orchestrator/internal/transport"
)

const DefaultSessionsDir = "./sessions"

var ErrNotConnected = errors.New("whatsapp client not connected")

type Options struct {
	SessionsDir string
	StoreDriver string // sqlite3 or postgres
	StoreDSN    string
	DeviceSeed  string
	Country     string
}

// Adapter implements transport.Adapter on top of whatsmeow.
type Adapter struct {
	opts    Options
	log     *logrus.Entry
	devices *deviceStore

	mu    sync.Mutex
	conns map[string]*conn
}

type conn struct {
	client  *whatsmeow.Client
	pump    *pump
	release func()
}

// propsMu guards the package level store.DeviceProps, which whatsmeow reads
// during pairing.
var propsMu sync.Mutex

func NewAdapter(opts Options, log *logrus.Entry) (*Adapter, error) {
	devices, err := newDeviceStore(opts.SessionsDir, opts.StoreDriver, opts.StoreDSN, log)
	if err != nil {
		return nil, err
	}
	return &Adapter{
		opts:    opts,
		log:     log,
		devices: devices,
		conns:   make(map[string]*conn),
	}, nil
}

// Connect opens a whatsmeow client for the session. An unpaired device gets
// a QR pairing flow; its codes arrive as pairing events.
func (a *Adapter) Connect(ctx context.Context, sessionID, proxyURL string) (<-chan transport.Event, error) {
	// A reconnect replaces the previous client.
	a.drop(sessionID)

	device, release, err := a.devices.open(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	a.applyDeviceProps(sessionID)

	client := whatsmeow.NewClient(device, logging.WA(a.log, "Client-"+short(sessionID)))
	// Reconnection is owned by the session manager.
	client.EnableAutoReconnect = false
	if proxyURL != "" {
		if err := client.SetProxyAddress(proxyURL); err != nil {
			release()
			return nil, fmt.Errorf("failed to set proxy: %w", err)
		}
	}

	c := &conn{client: client, pump: newPump(), release: release}
	client.AddEventHandler(func(evt any) { a.handleEvent(sessionID, c, evt) })

	if client.Store.ID == nil {
		qrChan, err := client.GetQRChannel(ctx)
		if err != nil && !errors.Is(err, whatsmeow.ErrQRStoreContainsID) {
			c.pump.stop()
			release()
			return nil, fmt.Errorf("failed to get QR channel: %w", err)
		}
		if qrChan != nil {
			go a.watchQR(sessionID, c, qrChan)
		}
	}

	if err := client.Connect(); err != nil {
		c.pump.stop()
		release()
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	a.mu.Lock()
	a.conns[sessionID] = c
	a.mu.Unlock()

	a.log.WithField("session", sessionID).Infof("[%s] Connecting to WhatsApp (proxy: %t)", short(sessionID), proxyURL != "")
	return c.pump.out, nil
}

func (a *Adapter) applyDeviceProps(sessionID string) {
	fp := fingerprint.ForSession(a.opts.DeviceSeed, sessionID, a.opts.Country)
	propsMu.Lock()
	defer propsMu.Unlock()
	platform := waCompanionReg.DeviceProps_CHROME
	store.DeviceProps.PlatformType = &platform
	store.DeviceProps.Os = proto.String(fp.OS)
}

func (a *Adapter) watchQR(sessionID string, c *conn, qrChan <-chan whatsmeow.QRChannelItem) {
	for evt := range qrChan {
		switch evt.Event {
		case "code":
			c.pump.emit(transport.Event{Kind: transport.EventPairing, Pairing: evt.Code})
		case "success":
			a.log.WithField("session", sessionID).Info("Login successful via QR")
		case "timeout":
			c.pump.emit(transport.Event{Kind: transport.EventFault, Reason: "pairing code expired"})
		default:
			if evt.Error != nil {
				c.pump.emit(transport.Event{Kind: transport.EventFault, Reason: "pairing failed: " + evt.Error.Error()})
			}
		}
	}
}

func (a *Adapter) handleEvent(sessionID string, c *conn, evt any) {
	switch v := evt.(type) {
	case *events.Connected:
		if c.client.Store.ID == nil {
			return
		}
		c.pump.emit(transport.Event{Kind: transport.EventOpened, Identity: c.client.Store.ID.User})
		return

	case *events.PairSuccess:
		a.log.WithField("session", sessionID).Infof("Paired with device %s", v.ID.String())
		a.devices.remember(sessionID, v.ID)
		return

	case *events.KeepAliveTimeout:
		a.log.WithField("session", sessionID).Debugf("KeepAlive timeout (errors: %d)", v.ErrorCount)
		return
	}

	ev, ok := translate(evt)
	if !ok {
		return
	}
	c.pump.emit(ev)
	if ev.Kind == transport.EventClosed {
		c.pump.finish()
	}
}

// Send delivers text, or an image with the body as caption.
func (a *Adapter) Send(ctx context.Context, sessionID string, out transport.Outbound) (transport.Receipt, error) {
	c := a.conn(sessionID)
	if c == nil || !c.client.IsLoggedIn() {
		return transport.Receipt{}, ErrNotConnected
	}
	jid, err := parseJID(out.To)
	if err != nil {
		return transport.Receipt{}, err
	}

	msg := &waE2E.Message{Conversation: proto.String(out.Body)}
	if out.Media != nil && len(out.Media.Data) > 0 {
		uploaded, err := c.client.Upload(ctx, out.Media.Data, whatsmeow.MediaImage)
		if err != nil {
			return transport.Receipt{}, fmt.Errorf("failed to upload media: %w", err)
		}
		msg = &waE2E.Message{ImageMessage: &waE2E.ImageMessage{
			Caption:       proto.String(out.Body),
			Mimetype:      proto.String(out.Media.MimeType),
			URL:           proto.String(uploaded.URL),
			DirectPath:    proto.String(uploaded.DirectPath),
			MediaKey:      uploaded.MediaKey,
			FileEncSHA256: uploaded.FileEncSHA256,
			FileSHA256:    uploaded.FileSHA256,
			FileLength:    proto.Uint64(uploaded.FileLength),
		}}
	}

	resp, err := c.client.SendMessage(ctx, jid, msg)
	if err != nil {
		return transport.Receipt{}, err
	}
	return transport.Receipt{ID: resp.ID}, nil
}

// Disconnect closes the session's client. With purge the device is logged
// out and its credentials deleted.
func (a *Adapter) Disconnect(ctx context.Context, sessionID string, purge bool) error {
	a.mu.Lock()
	c := a.conns[sessionID]
	delete(a.conns, sessionID)
	a.mu.Unlock()

	if c != nil {
		if purge && c.client.Store.ID != nil {
			if err := c.client.Logout(ctx); err != nil {
				a.log.WithError(err).WithField("session", sessionID).Warn("Logout failed, deleting credentials locally")
			}
		}
		c.client.Disconnect()
		c.pump.stop()
		c.release()
	}
	if !purge {
		return nil
	}
	return a.devices.purge(ctx, sessionID)
}

// UseProxy changes the proxy the session's client dials through on its next
// connection.
func (a *Adapter) UseProxy(sessionID, proxyURL string) error {
	c := a.conn(sessionID)
	if c == nil {
		return nil
	}
	return c.client.SetProxyAddress(proxyURL)
}

// Close disconnects every client and releases the device store.
func (a *Adapter) Close() error {
	a.mu.Lock()
	ids := make([]string, 0, len(a.conns))
	for id := range a.conns {
		ids = append(ids, id)
	}
	a.mu.Unlock()
	for _, id := range ids {
		a.drop(id)
	}
	return a.devices.close()
}

func (a *Adapter) drop(sessionID string) {
	a.mu.Lock()
	c := a.conns[sessionID]
	delete(a.conns, sessionID)
	a.mu.Unlock()
	if c == nil {
		return
	}
	c.client.Disconnect()
	c.pump.stop()
	c.release()
}

func (a *Adapter) conn(sessionID string) *conn {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.conns[sessionID]
}
