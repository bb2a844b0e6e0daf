// Package main provides a CI-friendly end-to-end smoke test for the
// Connexa realtime server.
//
// It validates:
//   - register + login (accessToken cookie)
//   - websocket upgrade with cookie auth + CONNECTED frame
//   - conversation create over REST
//   - NEW_MESSAGE send -> fanout to the peer and echo to the sender
//   - TYPING_START / TYPING_STOP fanout (peer only)
//   - paginated history fetch containing the sent message
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	v1 "connexa/contracts/realtime/v1"

	"github.com/coder/websocket"
)

const maxReadBytes = 1 << 20 // 1MiB

type smokeClient struct {
	name   string
	userID string
	cookie *http.Cookie
	conn   *websocket.Conn

	inbox chan v1.Frame
	errCh chan error
}

func main() {
	var (
		baseURL = flag.String("base", "http://127.0.0.1:8080", "Server base URL")
		passwd  = flag.String("password", "smoke-pass-3791!", "Password for the smoke accounts")
		timeout = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateBaseURL(*baseURL); err != nil {
		fatalf("invalid -base: %v", err)
	}

	root := context.Background()
	suffix := time.Now().UnixNano()

	a := mustAccount(root, *baseURL, "A", fmt.Sprintf("smoke-a-%d@example.com", suffix), *passwd, *timeout)
	b := mustAccount(root, *baseURL, "B", fmt.Sprintf("smoke-b-%d@example.com", suffix), *passwd, *timeout)

	mustConnect(root, *baseURL, a, *timeout)
	defer closeWS(a.conn)

	mustConnect(root, *baseURL, b, *timeout)
	defer closeWS(b.conn)

	if *verbose {
		fmt.Printf("connected: A=%s B=%s\n", a.userID, b.userID)
	}

	convID := mustCreateConversation(root, *baseURL, a, []string{a.userID, b.userID}, *timeout)

	text := fmt.Sprintf("smoke hello %d", suffix)

	mustSendFrame(root, a, v1.EventTypingStart, v1.TypingPayload{ConversationID: convID}, *timeout)
	mustAssertTyping(root, b, v1.EventTypingStart, convID, a.userID, *timeout)

	mustSendFrame(root, a, v1.EventNewMessage, v1.NewMessagePayload{
		ConversationID: convID,
		Content:        text,
		Type:           "TEXT",
	}, *timeout)

	msgID := mustAssertNewMessage(root, b, convID, a.userID, text, *timeout)
	echoID := mustAssertNewMessage(root, a, convID, a.userID, text, *timeout)
	if msgID != echoID {
		fatalf("fanout/echo id mismatch: peer=%s sender=%s", msgID, echoID)
	}

	mustSendFrame(root, a, v1.EventTypingStop, v1.TypingPayload{ConversationID: convID}, *timeout)
	mustAssertTyping(root, b, v1.EventTypingStop, convID, a.userID, *timeout)

	mustHistoryContains(root, *baseURL, b, convID, 1, msgID, *timeout)

	fmt.Printf("OK: A=%s B=%s conv_id=%s msg_id=%s\n", a.userID, b.userID, convID, msgID)
}

func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	return nil
}

// mustAccount registers (ignoring already-registered) and logs in,
// capturing the accessToken cookie and user id.
func mustAccount(parent context.Context, baseURL, name, email, passwd string, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	regBody := map[string]string{"name": "Smoke " + name, "email": email, "password": passwd}
	resp, err := postJSON(ctx, baseURL+"/api/v1/auth/register", regBody, nil)
	if err != nil {
		fatalf("register %s: %v", name, err)
	}
	drainClose(resp)
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusConflict {
		fatalf("register %s: unexpected status %d", name, resp.StatusCode)
	}

	loginBody := map[string]string{"email": email, "password": passwd}
	resp, err = postJSON(ctx, baseURL+"/api/v1/auth/login", loginBody, nil)
	if err != nil {
		fatalf("login %s: %v", name, err)
	}
	defer drainClose(resp)
	if resp.StatusCode != http.StatusOK {
		fatalf("login %s: unexpected status %d", name, resp.StatusCode)
	}

	var out struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		fatalf("login %s: decode: %v", name, err)
	}
	if strings.TrimSpace(out.Data.ID) == "" {
		fatalf("login %s: missing user id", name)
	}

	var cookie *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == "accessToken" {
			cookie = c
			break
		}
	}
	if cookie == nil {
		fatalf("login %s: accessToken cookie not set", name)
	}

	return &smokeClient{
		name:   name,
		userID: out.Data.ID,
		cookie: cookie,
		inbox:  make(chan v1.Frame, 512),
		errCh:  make(chan error, 1),
	}
}

func mustConnect(parent context.Context, baseURL string, c *smokeClient, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	wsURL := strings.Replace(baseURL, "http", "ws", 1) + "/ws"

	h := http.Header{}
	h.Set("Cookie", c.cookie.String())

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: h})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect %s: %v", c.name, err)
	}

	conn.SetReadLimit(maxReadBytes)
	c.conn = conn
	c.startReadLoop()

	connected := c.mustReadUntilType(parent, v1.EventConnected, stepTimeout)

	var p v1.ConnectedPayload
	if err := json.Unmarshal(connected.Content, &p); err != nil {
		fatalf("unmarshal CONNECTED payload (%s): %v", c.name, err)
	}
	if p.UserID != c.userID {
		fatalf("CONNECTED user mismatch (%s): got=%q want=%q", c.name, p.UserID, c.userID)
	}
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			mt, data, err := c.conn.Read(context.Background())
			if err != nil {
				select {
				case c.errCh <- err:
				default:
				}
				return
			}

			if mt != websocket.MessageText && mt != websocket.MessageBinary {
				select {
				case c.errCh <- fmt.Errorf("unsupported message type: %v", mt):
				default:
				}
				return
			}

			var f v1.Frame
			if err := json.Unmarshal(data, &f); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad json: %w", err):
				default:
				}
				return
			}

			select {
			case c.inbox <- f:
			default:
				select {
				case c.errCh <- errors.New("inbox overflow: consumer too slow"):
				default:
				}
				return
			}
		}
	}()
}

func (c *smokeClient) mustReadUntilType(parent context.Context, want string, stepTimeout time.Duration) v1.Frame {
	deadline := time.NewTimer(stepTimeout)
	defer deadline.Stop()

	for {
		select {
		case f, ok := <-c.inbox:
			if !ok {
				fatalf("read %s: connection closed while waiting for %s", c.name, want)
			}
			if f.Type == want {
				return f
			}
			// Presence and other interleaved frames are skipped.
		case err := <-c.errCh:
			fatalf("read %s: %v", c.name, err)
		case <-deadline.C:
			fatalf("read %s: timeout waiting for %s", c.name, want)
		case <-parent.Done():
			fatalf("read %s: %v", c.name, parent.Err())
		}
	}
}

func mustCreateConversation(parent context.Context, baseURL string, c *smokeClient, participants []string, stepTimeout time.Duration) string {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	body := map[string]any{
		"isGroup":      false,
		"participants": participants,
	}
	resp, err := postJSON(ctx, baseURL+"/api/v1/conversations", body, c.cookie)
	if err != nil {
		fatalf("create conversation: %v", err)
	}
	defer drainClose(resp)
	if resp.StatusCode != http.StatusCreated {
		fatalf("create conversation: unexpected status %d", resp.StatusCode)
	}

	var out struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		fatalf("create conversation: decode: %v", err)
	}
	if strings.TrimSpace(out.Data.ID) == "" {
		fatalf("create conversation: missing id")
	}
	return out.Data.ID
}

func mustSendFrame(parent context.Context, c *smokeClient, typ string, payload any, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	f, err := v1.NewFrame(typ, payload)
	if err != nil {
		fatalf("build frame %s (%s): %v", typ, c.name, err)
	}
	data, err := json.Marshal(f)
	if err != nil {
		fatalf("marshal frame %s (%s): %v", typ, c.name, err)
	}
	if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
		fatalf("write %s (%s): %v", typ, c.name, err)
	}
}

func mustAssertNewMessage(parent context.Context, c *smokeClient, convID, senderID, text string, stepTimeout time.Duration) string {
	f := c.mustReadUntilType(parent, v1.EventNewMessage, stepTimeout)

	var p struct {
		ID             string `json:"id"`
		ConversationID string `json:"conversationId"`
		SenderID       string `json:"senderId"`
		Content        string `json:"content"`
	}
	if err := json.Unmarshal(f.Content, &p); err != nil {
		fatalf("unmarshal NEW_MESSAGE (%s): %v", c.name, err)
	}
	if p.ConversationID != convID {
		fatalf("NEW_MESSAGE conv mismatch (%s): got=%q want=%q", c.name, p.ConversationID, convID)
	}
	if p.SenderID != senderID {
		fatalf("NEW_MESSAGE sender mismatch (%s): got=%q want=%q", c.name, p.SenderID, senderID)
	}
	if p.Content != text {
		fatalf("NEW_MESSAGE content mismatch (%s): got=%q want=%q", c.name, p.Content, text)
	}
	if strings.TrimSpace(p.ID) == "" {
		fatalf("NEW_MESSAGE missing id (%s)", c.name)
	}
	return p.ID
}

func mustAssertTyping(parent context.Context, c *smokeClient, want, convID, userID string, stepTimeout time.Duration) {
	f := c.mustReadUntilType(parent, want, stepTimeout)

	var p v1.TypingEventPayload
	if err := json.Unmarshal(f.Content, &p); err != nil {
		fatalf("unmarshal %s (%s): %v", want, c.name, err)
	}
	if p.ConversationID != convID || p.UserID != userID {
		fatalf("%s mismatch (%s): conv=%q user=%q", want, c.name, p.ConversationID, p.UserID)
	}
}

func mustHistoryContains(parent context.Context, baseURL string, c *smokeClient, convID string, page int, wantID string, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	u := fmt.Sprintf("%s/api/v1/conversations/%s/messages?page=%d", baseURL, convID, page)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		fatalf("history request: %v", err)
	}
	req.AddCookie(c.cookie)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatalf("history fetch: %v", err)
	}
	defer drainClose(resp)
	if resp.StatusCode != http.StatusOK {
		fatalf("history fetch: unexpected status %d", resp.StatusCode)
	}

	var out struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		fatalf("history fetch: decode: %v", err)
	}
	for _, m := range out.Data {
		if m.ID == wantID {
			return
		}
	}
	fatalf("history page %d missing message %s", page, wantID)
}

func postJSON(ctx context.Context, url string, body any, cookie *http.Cookie) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if cookie != nil {
		req.AddCookie(cookie)
	}
	return http.DefaultClient.Do(req)
}

func drainClose(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}

func closeWS(conn *websocket.Conn) {
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "smoke done")
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "ws-smoke: "+format+"\n", args...)
	os.Exit(1)
}
