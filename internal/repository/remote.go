package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/erazemk/zaloga/internal/model"
)

// Snapshot is one message on the live subscription: the whole items
// namespace at a revision. Revisions grow by one per change on a server.
type Snapshot struct {
	Revision int64        `json:"revision"`
	Items    []model.Item `json:"items"`
}

// IncrementRequest is the body of POST /api/items/{id}/increment.
type IncrementRequest struct {
	Delta int       `json:"delta"`
	At    time.Time `json:"at"`
}

// DeleteResponse is the body returned by DELETE /api/items/{id}.
type DeleteResponse struct {
	Existed bool        `json:"existed"`
	Item    *model.Item `json:"item,omitempty"`
}

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	Error string      `json:"error"`
	Code  string      `json:"code,omitempty"`
	Item  *model.Item `json:"item,omitempty"`
}

const (
	minBackoff = 500 * time.Millisecond
	maxBackoff = 30 * time.Second

	// pongWait bounds how long the connection may stay silent. The server
	// pings well within it.
	pongWait  = 90 * time.Second
	writeWait = 10 * time.Second
)

// RemoteOptions configure a Remote.
type RemoteOptions struct {
	// URL is the server base, e.g. http://pantry.local:8080.
	URL string
	// Token is the device token from pairing.
	Token string
	// HTTPClient defaults to a client with a 15 second timeout.
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Remote is a client of the realtime store server. Writes go over HTTP and
// are never committed locally first; the live collection arrives over a
// websocket and is cached for subscribers.
//
// Subscribers are called from the reader goroutine, one snapshot at a time,
// in revision order. Stale revisions are dropped.
type Remote struct {
	base   string
	token  string
	http   *http.Client
	dialer *websocket.Dialer
	log    *slog.Logger

	// deliverMu orders cache updates and subscriber calls.
	deliverMu sync.Mutex
	mu        sync.RWMutex
	items     []model.Item
	revision  int64
	synced    bool
	ready     chan struct{}

	subMu sync.Mutex
	subs  subscribers

	cancel context.CancelFunc
	done   chan struct{}
	closed atomic.Bool
}

var _ Repository = (*Remote)(nil)

// DialRemote starts the live subscription in the background and returns
// immediately. Connection failures are retried with backoff until Close.
func DialRemote(opts RemoteOptions) (*Remote, error) {
	u, err := url.Parse(opts.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: remote url %q must be http(s)://host", model.ErrValidation, opts.URL)
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Remote{
		base:   strings.TrimRight(opts.URL, "/"),
		token:  opts.Token,
		http:   hc,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second, Proxy: http.ProxyFromEnvironment},
		log:    log.With("remote", u.Host),
		ready:  make(chan struct{}),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go r.run(ctx)
	return r, nil
}

// Ready is closed once the first snapshot has arrived.
func (r *Remote) Ready() <-chan struct{} {
	return r.ready
}

// Revision returns the revision of the last delivered snapshot.
func (r *Remote) Revision() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.revision
}

// Create implements Repository.
func (r *Remote) Create(ctx context.Context, item model.Item) (string, error) {
	if _, err := model.ValidateName(item.Name); err != nil {
		return "", err
	}
	var created model.Item
	if err := r.do(ctx, http.MethodPost, "/api/items", item, &created); err != nil {
		return "", err
	}
	return created.ID, nil
}

// Update implements Repository.
func (r *Remote) Update(ctx context.Context, id string, patch model.ItemPatch) error {
	if err := patch.Validate(); err != nil {
		return err
	}
	return r.do(ctx, http.MethodPatch, "/api/items/"+url.PathEscape(id), patch, nil)
}

// Increment implements Repository. The server applies the delta in one
// statement, so concurrent devices never overwrite each other.
func (r *Remote) Increment(ctx context.Context, id string, delta int, at time.Time) (model.Item, error) {
	var item model.Item
	err := r.do(ctx, http.MethodPost, "/api/items/"+url.PathEscape(id)+"/increment",
		IncrementRequest{Delta: delta, At: model.Timestamp(at)}, &item)
	var rejected *rejectedError
	if errors.As(err, &rejected) && rejected.item != nil {
		return *rejected.item, err
	}
	return item, err
}

// Delete implements Repository.
func (r *Remote) Delete(ctx context.Context, id string) (model.Item, bool, error) {
	var resp DeleteResponse
	if err := r.do(ctx, http.MethodDelete, "/api/items/"+url.PathEscape(id), nil, &resp); err != nil {
		return model.Item{}, false, err
	}
	if !resp.Existed || resp.Item == nil {
		return model.Item{}, false, nil
	}
	return *resp.Item, true, nil
}

// Get implements Repository.
func (r *Remote) Get(ctx context.Context, id string) (model.Item, error) {
	var item model.Item
	err := r.do(ctx, http.MethodGet, "/api/items/"+url.PathEscape(id), nil, &item)
	return item, err
}

// GetAll implements Repository.
func (r *Remote) GetAll(ctx context.Context) ([]model.Item, error) {
	var items []model.Item
	if err := r.do(ctx, http.MethodGet, "/api/items", nil, &items); err != nil {
		return nil, err
	}
	if items == nil {
		items = []model.Item{}
	}
	return items, nil
}

// Load implements Repository.
func (r *Remote) Load(ctx context.Context, items []model.Item, replace bool) error {
	mode := "merge"
	if replace {
		mode = "replace"
	}
	if items == nil {
		items = []model.Item{}
	}
	return r.do(ctx, http.MethodPut, "/api/items?mode="+mode, items, nil)
}

// Subscribe implements Repository. If a snapshot has already arrived fn
// receives it before Subscribe returns; otherwise the first delivery comes
// when the connection is established.
func (r *Remote) Subscribe(fn func([]model.Item)) func() {
	r.deliverMu.Lock()
	defer r.deliverMu.Unlock()

	r.subMu.Lock()
	id := r.subs.add(fn)
	r.subMu.Unlock()

	r.mu.RLock()
	synced, snapshot := r.synced, model.CloneItems(r.items)
	r.mu.RUnlock()
	if synced {
		fn(snapshot)
	}

	return func() {
		r.subMu.Lock()
		r.subs.remove(id)
		r.subMu.Unlock()
	}
}

// Close stops the subscription and waits for the reader to exit.
func (r *Remote) Close() error {
	r.closed.Store(true)
	r.cancel()
	<-r.done
	return nil
}

func (r *Remote) run(ctx context.Context) {
	defer close(r.done)

	backoff := minBackoff
	for {
		connected, err := r.listen(ctx)
		if ctx.Err() != nil {
			return
		}
		if connected {
			backoff = minBackoff
		}
		r.log.Warn("live subscription lost, retrying", "error", err, "in", backoff)

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

// listen holds one websocket connection until it fails. It reports whether
// the handshake succeeded so the caller can reset its backoff.
func (r *Remote) listen(ctx context.Context) (bool, error) {
	header := http.Header{}
	if r.token != "" {
		header.Set("Authorization", "Bearer "+r.token)
	}
	conn, resp, err := r.dialer.DialContext(ctx, wsURL(r.base)+"/api/subscribe", header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return false, fmt.Errorf("subscribing: device token rejected")
		}
		return false, fmt.Errorf("subscribing: %w", err)
	}

	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})
	r.log.Info("live subscription connected")

	// Revisions restart with a new connection, since the server may have
	// restarted in between.
	var last int64 = -1
	for {
		var snap Snapshot
		if err := conn.ReadJSON(&snap); err != nil {
			return true, fmt.Errorf("reading snapshot: %w", err)
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))
		if snap.Revision <= last {
			r.log.Debug("dropping stale snapshot", "revision", snap.Revision, "last", last)
			continue
		}
		last = snap.Revision
		r.deliver(snap)
	}
}

func (r *Remote) deliver(snap Snapshot) {
	r.deliverMu.Lock()
	defer r.deliverMu.Unlock()

	items := snap.Items
	if items == nil {
		items = []model.Item{}
	}

	r.mu.Lock()
	r.items = items
	r.revision = snap.Revision
	first := !r.synced
	r.synced = true
	r.mu.Unlock()
	if first {
		close(r.ready)
	}

	r.subMu.Lock()
	fns := r.subs.list()
	r.subMu.Unlock()
	for _, fn := range fns {
		fn(model.CloneItems(items))
	}
}

func (r *Remote) do(ctx context.Context, method, path string, body, out any) error {
	if r.closed.Load() {
		return errClosed
	}
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.base+path, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}

	resp, err := r.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", model.ErrStoreUnavailable, method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decoding response: %w", model.ErrStoreUnavailable, err)
	}
	return nil
}

// rejectedError carries the unchanged item back from a refused increment.
type rejectedError struct {
	err  error
	item *model.Item
}

func (e *rejectedError) Error() string { return e.err.Error() }
func (e *rejectedError) Unwrap() error { return e.err }

func decodeError(resp *http.Response) error {
	var body ErrorResponse
	json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body)

	var err error
	if sentinel := model.ErrorFromCode(body.Code); sentinel != nil {
		err = fmt.Errorf("%w: %s", sentinel, body.Error)
	} else {
		switch {
		case resp.StatusCode == http.StatusUnauthorized:
			err = fmt.Errorf("%w: device not paired or token revoked", model.ErrStoreUnavailable)
		case resp.StatusCode == http.StatusBadRequest:
			err = fmt.Errorf("%w: %s", model.ErrValidation, body.Error)
		case resp.StatusCode == http.StatusNotFound:
			err = model.ErrNotFound
		case resp.StatusCode == http.StatusConflict:
			err = model.ErrNegativeStock
		default:
			err = fmt.Errorf("%w: status %d: %s", model.ErrStoreUnavailable, resp.StatusCode, body.Error)
		}
	}
	if body.Item != nil {
		return &rejectedError{err: err, item: body.Item}
	}
	return err
}

func wsURL(base string) string {
	if rest, ok := strings.CutPrefix(base, "https://"); ok {
		return "wss://" + rest
	}
	return "ws://" + strings.TrimPrefix(base, "http://")
}
