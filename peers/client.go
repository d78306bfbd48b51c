// Package peers implements replay-state synchronization between redundant
// validators: a client that fans accepted state out to sibling servers,
// counting acknowledgements for sync-level accounting.
package peers

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tehmaze-labs/yubistack/interfaces"
	"github.com/tehmaze-labs/yubistack/metrics"
	"github.com/tehmaze-labs/yubistack/protocol"
)

// SyncPath is the endpoint sibling validators accept state pushes on.
const SyncPath = "/wsapi/2.0/sync"

// defaultSyncTimeout bounds each peer push. Sync is best-effort; a slow
// peer must not hold up the verify response.
const defaultSyncTimeout = 2 * time.Second

// Client pushes accepted replay state to every configured peer and
// implements interfaces.SyncNotifier.
type Client struct {
	peers   []string
	client  *http.Client
	timeout time.Duration
	log     *slog.Logger
}

var _ interfaces.SyncNotifier = (*Client)(nil)

// NewClient creates a sync client for the given peer base URLs, for
// example "https://val2.example.com:8080".
func NewClient(peerURLs []string, log *slog.Logger) *Client {
	return &Client{
		peers:   peerURLs,
		client:  &http.Client{Timeout: defaultSyncTimeout},
		timeout: defaultSyncTimeout,
		log:     log,
	}
}

// Notify pushes state for id to all peers concurrently and returns how
// many acknowledged, together with the peer count. Failures are logged
// and counted, never returned: sync is advisory for the caller.
func (c *Client) Notify(ctx context.Context, id interfaces.PublicID, state interfaces.ReplayState) (int, int) {
	if len(c.peers) == 0 {
		return 0, 0
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	values := syncValues(id, state)
	var wg sync.WaitGroup
	acks := make(chan struct{}, len(c.peers))
	for _, peer := range c.peers {
		wg.Add(1)
		go func(peer string) {
			defer wg.Done()
			if err := c.push(ctx, peer, values); err != nil {
				metrics.SyncAcksTotal.WithLabelValues("failed").Inc()
				c.log.Warn("Peer sync push failed", "err", err, slog.String("peer", peer))
				return
			}
			metrics.SyncAcksTotal.WithLabelValues("acked").Inc()
			acks <- struct{}{}
		}(peer)
	}
	wg.Wait()
	close(acks)

	return len(acks), len(c.peers)
}

// push posts the state to one peer and checks for an OK status in the
// response body.
func (c *Client) push(ctx context.Context, peer string, values url.Values) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, peer+SyncPath, strings.NewReader(values.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return &peerError{peer: peer, status: resp.StatusCode}
	}
	if params := protocol.ParseResponse(string(body)); params["status"] != string(interfaces.StatusOK) {
		return &peerError{peer: peer, status: resp.StatusCode, body: params["status"]}
	}
	return nil
}

// syncValues renders the replay state in the sync wire format. The
// timestamp splits into its low 16 bits and high 8 bits, matching the
// token layout.
func syncValues(id interfaces.PublicID, state interfaces.ReplayState) url.Values {
	return url.Values{
		"yk_publicname": {id.String()},
		"yk_counter":    {strconv.Itoa(int(state.Counter))},
		"yk_use":        {strconv.Itoa(int(state.Session))},
		"yk_low":        {strconv.Itoa(int(state.Timestamp & 0xffff))},
		"yk_high":       {strconv.Itoa(int(state.Timestamp >> 16))},
		"modified":      {strconv.FormatInt(state.LastSeen.Unix(), 10)},
		"nonce":         {strings.ReplaceAll(uuid.NewString(), "-", "")},
	}
}

type peerError struct {
	peer   string
	status int
	body   string
}

func (e *peerError) Error() string {
	if e.body != "" {
		return "peer " + e.peer + " answered " + e.body
	}
	return "peer " + e.peer + " returned HTTP " + strconv.Itoa(e.status)
}
