package wsnotify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"nhooyr.io/websocket"

	"github.com/velmie/offsync"
)

// Notifier subscribes to a Hub. It satisfies offsync.Notifier.
type Notifier struct {
	url string
	cfg Config
}

// NewNotifier builds a Notifier for the hub at url (ws:// or wss://).
func NewNotifier(url string, opts ...Option) (*Notifier, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, ErrURLRequired
	}

	return &Notifier{url: url, cfg: newConfig(opts)}, nil
}

// Subscribe dials the hub and delivers notifications until ctx is done or the
// connection drops. Malformed messages are logged and skipped.
func (n *Notifier) Subscribe(ctx context.Context, handle func(offsync.Notification)) error {
	var dialOpts websocket.DialOptions
	if n.cfg.Token != "" {
		dialOpts.HTTPHeader = http.Header{"Authorization": []string{"Bearer " + n.cfg.Token}}
	}
	c, _, err := websocket.Dial(ctx, n.url, &dialOpts)
	if err != nil {
		return fmt.Errorf("offsync websocket: dial %s: %w", n.url, err)
	}
	defer c.CloseNow()

	for {
		_, data, err := c.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			return fmt.Errorf("offsync websocket: read: %w", err)
		}
		var note offsync.Notification
		if err := json.Unmarshal(data, &note); err != nil {
			n.cfg.Logger.Warn("dropping malformed notification", "err", err)
			continue
		}
		handle(note)
	}
}
