package chat

import "context"

// Settings are the chat provider credentials. The operator-mutable copies in
// the settings table take precedence over the config file.
type Settings struct {
	ProviderAppID   int
	ProviderAppHash string
	TargetChannelID int64
	SessionFile     string
}

// Configured reports whether the provider can be started at all.
func (s Settings) Configured() bool {
	return s.ProviderAppID != 0 && s.ProviderAppHash != "" && s.TargetChannelID != 0
}

// Message is one inbound file-bearing chat message. Download drives the
// transfer and reports cumulative byte counts through the progress callback.
// Reply and EditReply are the best-effort side-channel status mirror.
type Message interface {
	ID() int64
	Filename() string
	MIMEType() string
	Download(ctx context.Context, path string, progress func(current, total int64)) error
	Reply(ctx context.Context, text string) (int64, error)
	EditReply(ctx context.Context, replyID int64, text string) error
}

// Client is the authenticated session handle: a stream of inbound
// file-bearing messages from the target channel.
type Client interface {
	Messages() <-chan Message
	Close() error
}

// Dialer performs the identity/session handshake with the chat provider and
// returns a connected client. The handshake itself lives outside the core;
// an adapter registers itself here at init time.
type Dialer func(ctx context.Context, settings Settings) (Client, error)

// Dial is the installed provider adapter, nil when none is linked in.
var Dial Dialer
