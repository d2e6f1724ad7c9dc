package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"
)

// WhatsmeowFactory builds transport clients backed by whatsmeow. Each client
// gets its own credential container under StoreDir; the controller removes
// the directory wholesale before every rebuild.
type WhatsmeowFactory struct {
	StoreDir string
	Log      zerolog.Logger
}

func (f *WhatsmeowFactory) New(ctx context.Context, hooks Hooks) (Client, error) {
	if err := os.MkdirAll(f.StoreDir, 0o755); err != nil {
		return nil, fmt.Errorf("create session store dir: %w", err)
	}
	dbPath := filepath.Join(f.StoreDir, "whatsmeow.db")
	address := "file:" + dbPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"

	container, err := sqlstore.New(ctx, "sqlite", address, waLog.Zerolog(f.Log))
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}
	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("load device: %w", err)
	}

	cli := whatsmeow.NewClient(device, waLog.Zerolog(f.Log))
	wc := &whatsmeowClient{cli: cli, hooks: hooks}
	cli.AddEventHandler(wc.handleEvent)
	return wc, nil
}

type whatsmeowClient struct {
	cli   *whatsmeow.Client
	hooks Hooks
}

func (w *whatsmeowClient) Start(ctx context.Context) error {
	if w.cli.Store.ID == nil {
		qrChan, err := w.cli.GetQRChannel(ctx)
		switch {
		case err == nil:
			go w.pumpQRChannel(qrChan)
		case errors.Is(err, whatsmeow.ErrQRStoreContainsID):
			// Device already paired; connect resumes the session.
		default:
			return fmt.Errorf("open qr channel: %w", err)
		}
	}
	if err := w.cli.Connect(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	return nil
}

func (w *whatsmeowClient) pumpQRChannel(qrChan <-chan whatsmeow.QRChannelItem) {
	for item := range qrChan {
		switch item.Event {
		case whatsmeow.QRChannelEventCode:
			w.hooks.Challenge(item.Code)
		case whatsmeow.QRChannelEventError:
			w.hooks.Disconnected(fmt.Sprintf("qr channel error: %v", item.Error))
		}
	}
}

func (w *whatsmeowClient) handleEvent(evt interface{}) {
	switch v := evt.(type) {
	case *events.Connected:
		w.hooks.Ready()
	case *events.StreamReplaced:
		w.hooks.Disconnected("stream replaced by another session")
	case *events.Disconnected:
		w.hooks.Disconnected("connection closed")
	case *events.LoggedOut:
		w.hooks.AuthFailure(fmt.Sprintf("logged out: %v", v.Reason))
	case *events.ConnectFailure:
		w.hooks.Disconnected(fmt.Sprintf("connect failure: %v", v.Reason))
	}
}

func (w *whatsmeowClient) Destroy() error {
	w.cli.Disconnect()
	return nil
}

func (w *whatsmeowClient) Send(ctx context.Context, address string, body string) (string, error) {
	jid, err := types.ParseJID(address)
	if err != nil {
		return "", fmt.Errorf("parse address %q: %w", address, err)
	}
	resp, err := w.cli.SendMessage(ctx, jid, &waE2E.Message{
		Conversation: proto.String(body),
	})
	if err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}
	return string(resp.ID), nil
}
