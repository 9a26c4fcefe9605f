package email

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/nhle/mailprint/internal/model"
	"github.com/nhle/mailprint/internal/source"
)

// IMAPClient wraps go-imap v2 for connecting to and querying IMAP servers.
type IMAPClient struct {
	host     string
	port     string
	username string
	password string
	tls      bool
	folder   string
}

// NewIMAPClient creates a new IMAP client configuration.
func NewIMAPClient(cfg model.MailboxConfig) *IMAPClient {
	folder := cfg.Folder
	if folder == "" {
		folder = "INBOX"
	}
	return &IMAPClient{
		host:     cfg.Host,
		port:     strconv.Itoa(cfg.Port),
		username: cfg.Username,
		password: cfg.Password,
		tls:      cfg.TLS,
		folder:   folder,
	}
}

func (c *IMAPClient) addr() string {
	return net.JoinHostPort(c.host, c.port)
}

// Connect establishes a connection to the IMAP server, authenticates,
// and returns the connected client. The caller is responsible for
// calling Logout/Close on the returned client.
func (c *IMAPClient) Connect(
	_ context.Context,
) (*imapclient.Client, error) {
	addr := c.addr()

	var client *imapclient.Client
	var err error

	if c.tls {
		client, err = imapclient.DialTLS(addr, nil)
	} else {
		client, err = imapclient.DialStartTLS(addr, nil)
	}
	if err != nil {
		return nil, &source.ConnectionError{Addr: addr, Message: "dialing", Err: err}
	}

	if err := client.Login(c.username, c.password).Wait(); err != nil {
		_ = client.Logout().Wait()
		return nil, &source.ConnectionError{
			Addr:    addr,
			Message: fmt.Sprintf("authentication failed for %s", c.username),
			Err:     err,
		}
	}

	return client, nil
}

// ValidateConnection verifies credentials by connecting, authenticating
// and selecting the configured folder.
func (c *IMAPClient) ValidateConnection(ctx context.Context) error {
	client, err := c.Connect(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = client.Logout().Wait() }()

	if _, err := client.Select(c.folder, nil).Wait(); err != nil {
		return &source.ConnectionError{Addr: c.addr(), Message: "selecting " + c.folder, Err: err}
	}
	return nil
}

// RawMessage is the unparsed RFC 5322 body of one message.
type RawMessage struct {
	UID  imap.UID
	Body []byte
}

// FetchUnseen downloads every message without the \Seen flag and marks
// each one as seen right after it was downloaded. Per-message failures are
// returned as *source.FetchError values alongside the messages that did
// arrive; only connection-level problems produce the final error.
func (c *IMAPClient) FetchUnseen(
	ctx context.Context,
) ([]RawMessage, []error, error) {
	client, err := c.Connect(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = client.Logout().Wait() }()

	// go-imap commands take no context; dropping the connection unblocks
	// whatever is in flight.
	stop := context.AfterFunc(ctx, func() { _ = client.Close() })
	defer stop()

	if _, err := client.Select(c.folder, nil).Wait(); err != nil {
		return nil, nil, &source.ConnectionError{Addr: c.addr(), Message: "selecting " + c.folder, Err: err}
	}

	criteria := &imap.SearchCriteria{
		NotFlag: []imap.Flag{imap.FlagSeen},
	}
	searchData, err := client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, nil, &source.ConnectionError{Addr: c.addr(), Message: "searching unseen messages", Err: err}
	}

	var (
		messages []RawMessage
		failures []error
	)
	for _, uid := range searchData.AllUIDs() {
		if err := ctx.Err(); err != nil {
			return messages, failures, err
		}

		id := strconv.FormatUint(uint64(uid), 10)

		body, err := fetchBody(client, uid)
		if err != nil {
			failures = append(failures, &source.FetchError{MessageID: id, Err: err})
			continue
		}
		messages = append(messages, RawMessage{UID: uid, Body: body})

		if err := markSeen(client, uid); err != nil {
			failures = append(failures, &source.FetchError{
				MessageID: id,
				Err:       fmt.Errorf("marking seen: %w", err),
			})
		}
	}

	return messages, failures, nil
}

// fetchBody fetches BODY.PEEK[] for a single UID.
func fetchBody(client *imapclient.Client, uid imap.UID) ([]byte, error) {
	bodySection := &imap.FetchItemBodySection{
		Peek: true,
	}

	fetchOpts := &imap.FetchOptions{
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{bodySection},
	}

	fetchCmd := client.Fetch(imap.UIDSetNum(uid), fetchOpts)
	defer fetchCmd.Close()

	msg := fetchCmd.Next()
	if msg == nil {
		return nil, fmt.Errorf("message UID %d not found", uid)
	}

	buf, err := msg.Collect()
	if err != nil {
		return nil, fmt.Errorf("collecting message data: %w", err)
	}

	raw := buf.FindBodySection(bodySection)
	if raw == nil {
		return nil, fmt.Errorf("message UID %d has no body", uid)
	}

	if err := fetchCmd.Close(); err != nil {
		return nil, fmt.Errorf("closing fetch: %w", err)
	}

	return raw, nil
}

func markSeen(client *imapclient.Client, uid imap.UID) error {
	storeCmd := client.Store(imap.UIDSetNum(uid), &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Silent: true,
		Flags:  []imap.Flag{imap.FlagSeen},
	}, nil)

	return storeCmd.Close()
}
