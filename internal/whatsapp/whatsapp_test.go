package whatsapp

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"

	"github.com/whatsapp-automation/orchestrator/internal/logging"
	"github.com/whatsapp-automation/orchestrator/internal/transport"
)

func messageEvent(fromMe bool, msg *waE2E.Message) *events.Message {
	return &events.Message{
		Info: types.MessageInfo{
			MessageSource: types.MessageSource{
				Sender:   types.NewJID("5511988887777", types.DefaultUserServer),
				Chat:     types.NewJID("5511988887777", types.DefaultUserServer),
				IsFromMe: fromMe,
			},
			ID:        "ABC",
			Timestamp: time.Unix(1700000000, 0),
		},
		Message: msg,
	}
}

func TestTranslateMessages(t *testing.T) {
	ev, ok := translate(messageEvent(false, &waE2E.Message{Conversation: proto.String("oi")}))
	require.True(t, ok)
	assert.Equal(t, transport.EventMessage, ev.Kind)
	assert.Equal(t, "5511988887777", ev.Message.Contact)
	assert.Equal(t, "oi", ev.Message.Text)
	assert.Equal(t, "ABC", ev.Message.ID)

	ev, ok = translate(messageEvent(false, &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{Text: proto.String("quero internet")}}))
	require.True(t, ok)
	assert.Equal(t, "quero internet", ev.Message.Text)

	ev, ok = translate(messageEvent(false, &waE2E.Message{LocationMessage: &waE2E.LocationMessage{
		DegreesLatitude:  proto.Float64(-23.5505),
		DegreesLongitude: proto.Float64(-46.6333),
	}}))
	require.True(t, ok)
	assert.Equal(t, "-23.5505,-46.6333", ev.Message.Text)

	_, ok = translate(messageEvent(true, &waE2E.Message{Conversation: proto.String("mine")}))
	assert.False(t, ok, "own messages are skipped")

	_, ok = translate(messageEvent(false, &waE2E.Message{ImageMessage: &waE2E.ImageMessage{}}))
	assert.False(t, ok, "non-text messages are skipped")
}

func TestTranslateConnectionEvents(t *testing.T) {
	ev, ok := translate(&events.LoggedOut{Reason: events.ConnectFailureLoggedOut})
	require.True(t, ok)
	assert.Equal(t, transport.EventClosed, ev.Kind)
	assert.False(t, ev.Recoverable)

	ev, ok = translate(&events.Disconnected{})
	require.True(t, ok)
	assert.Equal(t, transport.EventClosed, ev.Kind)
	assert.True(t, ev.Recoverable)

	ev, ok = translate(&events.StreamReplaced{})
	require.True(t, ok)
	assert.Equal(t, transport.EventFault, ev.Kind)

	_, ok = translate(&events.Receipt{})
	assert.False(t, ok)
}

func TestParseJID(t *testing.T) {
	jid, err := parseJID("+55 (11) 98888-7777")
	require.NoError(t, err)
	assert.Equal(t, "5511988887777", jid.User)
	assert.Equal(t, types.DefaultUserServer, jid.Server)

	_, err = parseJID("abc")
	assert.Error(t, err)
}

func TestPumpDeliversInOrderThenCloses(t *testing.T) {
	p := newPump()
	for i := 0; i < 100; i++ {
		p.emit(transport.Event{Kind: transport.EventMessage, Reason: string(rune('a' + i%26))})
	}
	p.emit(transport.Event{Kind: transport.EventClosed, Recoverable: true})
	p.finish()
	p.emit(transport.Event{Kind: transport.EventOpened})

	var got []transport.Event
	for ev := range p.out {
		got = append(got, ev)
	}
	require.Len(t, got, 101)
	assert.Equal(t, "a", got[0].Reason)
	assert.Equal(t, transport.EventClosed, got[100].Kind)
}

func TestPumpStopAbandonsBuffer(t *testing.T) {
	p := newPump()
	p.emit(transport.Event{Kind: transport.EventOpened})
	p.stop()
	p.stop()
	for range p.out {
	}
}

func TestDeviceStorePurgeRemovesSessionFile(t *testing.T) {
	dir := t.TempDir()
	ds, err := newDeviceStore(dir, "sqlite3", "", logging.Discard())
	require.NoError(t, err)

	ctx := context.Background()
	device, release, err := ds.open(ctx, "s1")
	require.NoError(t, err)
	assert.Nil(t, device.ID, "fresh device is unpaired")
	release()

	_, err = os.Stat(ds.dbPath("s1"))
	require.NoError(t, err)

	require.NoError(t, ds.purge(ctx, "s1"))
	_, err = os.Stat(ds.dbPath("s1"))
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, ds.purge(ctx, "never-existed"))
}

func TestDeviceStoreRejectsUnknownDriver(t *testing.T) {
	_, err := newDeviceStore(t.TempDir(), "mysql", "", logging.Discard())
	assert.Error(t, err)
	_, err = newDeviceStore(t.TempDir(), "postgres", "", logging.Discard())
	assert.Error(t, err)
}
