package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"connexa/cmd/internal/chat"
)

// ErrSuperseded reports that a newer fetch for the same conversation
// replaced this one; its response was discarded without touching the
// cache.
var ErrSuperseded = errors.New("history fetch superseded")

// Fetcher loads message history pages over REST. Per conversation only
// the latest request wins: starting a fetch cancels any in-flight one
// for the same conversation, and a cancelled response never reaches
// the Store.
type Fetcher struct {
	log     *slog.Logger
	baseURL string
	hc      *http.Client
	store   *Store

	mu       sync.Mutex
	inflight map[string]*fetchOp
}

type fetchOp struct {
	cancel context.CancelFunc
}

// NewFetcher constructs a Fetcher. baseURL is the API root, e.g.
// "https://host/api/v1". hc should carry the accessToken cookie jar;
// nil falls back to http.DefaultClient.
func NewFetcher(log *slog.Logger, baseURL string, hc *http.Client, store *Store) *Fetcher {
	if log == nil {
		log = slog.Default()
	}
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Fetcher{
		log:      log,
		baseURL:  baseURL,
		hc:       hc,
		store:    store,
		inflight: make(map[string]*fetchOp),
	}
}

// FetchPage fetches one history page and merges it into the store.
// Switching conversations (or paging again) while a fetch is in flight
// cancels the old one; the superseded call returns ErrSuperseded.
func (f *Fetcher) FetchPage(ctx context.Context, conversationID string, page int) error {
	if page < 1 {
		page = 1
	}

	ctx, cancel := context.WithCancel(ctx)
	op := &fetchOp{cancel: cancel}

	f.mu.Lock()
	if prev := f.inflight[conversationID]; prev != nil {
		prev.cancel()
	}
	f.inflight[conversationID] = op
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		if f.inflight[conversationID] == op {
			delete(f.inflight, conversationID)
		}
		f.mu.Unlock()
		cancel()
	}()

	url := fmt.Sprintf("%s/conversations/%s/messages?page=%d", f.baseURL, conversationID, page)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := f.hc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ErrSuperseded
		}
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("history fetch: unexpected status %d", resp.StatusCode)
	}

	var pg chat.MessagePage
	if err := json.NewDecoder(resp.Body).Decode(&pg); err != nil {
		if ctx.Err() != nil {
			return ErrSuperseded
		}
		return fmt.Errorf("history fetch: decode: %w", err)
	}

	// Only the still-latest request may write to the cache. The check
	// and the merge stay under one lock so a stale response cannot
	// slip its cursor in after a newer fetch has merged.
	f.mu.Lock()
	if f.inflight[conversationID] != op {
		f.mu.Unlock()
		return ErrSuperseded
	}
	f.store.MergeHistory(conversationID, pg.Data, pg.Meta)
	f.mu.Unlock()
	f.log.Debug("history.page.merged",
		"conversation_id", conversationID,
		"page", pg.Meta.CurrPage,
		"count", len(pg.Data),
	)
	return nil
}

// CancelAll aborts every in-flight fetch, for teardown.
func (f *Fetcher) CancelAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, op := range f.inflight {
		op.cancel()
		delete(f.inflight, id)
	}
}
