package email

import (
	"context"
	"strconv"

	"go.uber.org/zap"

	"github.com/nhle/mailprint/internal/model"
	"github.com/nhle/mailprint/internal/source"
)

// session is the part of IMAPClient the adapter drives.
type session interface {
	ValidateConnection(ctx context.Context) error
	FetchUnseen(ctx context.Context) ([]RawMessage, []error, error)
}

// Adapter implements source.Mailbox on top of an IMAP account.
type Adapter struct {
	imap     session
	username string
	log      *zap.Logger
}

var _ source.Mailbox = (*Adapter)(nil)

// NewAdapter creates a new IMAP mailbox adapter.
func NewAdapter(cfg model.MailboxConfig, log *zap.Logger) *Adapter {
	return newAdapter(NewIMAPClient(cfg), cfg.Username, log)
}

func newAdapter(s session, username string, log *zap.Logger) *Adapter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Adapter{imap: s, username: username, log: log.Named("imap")}
}

// ValidateConnection verifies IMAP credentials by connecting,
// authenticating, and selecting the folder. Returns the username on success.
func (a *Adapter) ValidateConnection(
	ctx context.Context,
) (string, error) {
	if err := a.imap.ValidateConnection(ctx); err != nil {
		return "", err
	}
	return a.username, nil
}

// FetchUnread downloads and parses every unread message. Messages that
// fail to download or parse are logged and left out; the returned error
// is reserved for connection failures.
func (a *Adapter) FetchUnread(ctx context.Context) ([]source.Message, error) {
	raws, failures, err := a.imap.FetchUnseen(ctx)
	for _, f := range failures {
		a.log.Warn("skipping message", zap.Error(f))
	}
	if err != nil {
		if len(raws) > 0 {
			ids := make([]string, len(raws))
			for i, raw := range raws {
				ids[i] = strconv.FormatUint(uint64(raw.UID), 10)
			}
			a.log.Warn("messages marked seen but not processed; mark them unread to retry",
				zap.Strings("message_ids", ids),
				zap.Error(err),
			)
		}
		return nil, err
	}

	messages := make([]source.Message, 0, len(raws))
	for _, raw := range raws {
		id := strconv.FormatUint(uint64(raw.UID), 10)

		msg, err := parseMessage(id, raw.Body)
		if msg == nil {
			a.log.Warn("skipping message",
				zap.Error(&source.FetchError{MessageID: id, Err: err}),
			)
			continue
		}
		if err != nil {
			a.log.Warn("message partially parsed",
				zap.String("message_id", id),
				zap.Int("parts", len(msg.parts)),
				zap.Error(err),
			)
		}
		messages = append(messages, msg)
	}

	a.log.Info("fetched unread messages",
		zap.Int("messages", len(messages)),
		zap.Int("unparsable", len(raws)-len(messages)),
		zap.Int("fetch_failures", len(failures)),
	)
	return messages, nil
}

// Close releases the adapter. Connections are opened per call, so there is
// nothing to tear down.
func (a *Adapter) Close() error {
	return nil
}
