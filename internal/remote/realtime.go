package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"

	"github.com/sadopc/platelog/internal/model"
)

const heartbeatInterval = 30 * time.Second

// Subscribe opens a realtime channel on the table filtered to userID and
// delivers the whole of date after every change touching it, starting with
// the current state. A channel or socket failure calls onError once and
// ends the subscription. The returned func unsubscribes and is idempotent.
func (c *Client) Subscribe(ctx context.Context, userID string, date model.Date, onData func(*model.DailyLog), onError func(error)) (func(), error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, c.realtimeURL(), nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}

	readCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &subscription{
		client:  c,
		conn:    conn,
		userID:  userID,
		date:    date,
		topic:   fmt.Sprintf("realtime:public:%s:user_id=eq.%s", c.table, userID),
		onData:  onData,
		onError: onError,
		ctx:     readCtx,
		cancel:  cancel,
		done:    make(chan struct{}),
		refresh: make(chan struct{}, 1),
	}

	s.joinRef = s.nextRef()
	join := map[string]any{
		"topic":    s.topic,
		"event":    "phx_join",
		"ref":      s.joinRef,
		"join_ref": s.joinRef,
		"payload": map[string]any{
			"config": map[string]any{
				"postgres_changes": []map[string]any{{
					"event":  "*",
					"schema": "public",
					"table":  c.table,
					"filter": "user_id=eq." + userID,
				}},
			},
		},
	}
	if err := s.send(join); err != nil {
		cancel()
		conn.Close()
		return nil, fmt.Errorf("send join: %w", err)
	}

	s.signal()
	go s.readLoop()
	go s.refreshLoop()
	go s.heartbeat()

	return func() { s.shutdown(nil) }, nil
}

func (c *Client) realtimeURL() string {
	wsURL := c.baseURL
	if strings.HasPrefix(wsURL, "https") {
		wsURL = "wss" + wsURL[5:]
	} else if strings.HasPrefix(wsURL, "http") {
		wsURL = "ws" + wsURL[4:]
	}
	return wsURL + "/realtime/v1/websocket?apikey=" + url.QueryEscape(c.apiKey) + "&vsn=1.0.0"
}

type subscription struct {
	client  *Client
	conn    *websocket.Conn
	userID  string
	date    model.Date
	topic   string
	joinRef string
	onData  func(*model.DailyLog)
	onError func(error)

	ctx    context.Context
	cancel context.CancelFunc

	writeMu sync.Mutex
	ref     int

	done      chan struct{}
	closeOnce sync.Once
	refresh   chan struct{}
}

func (s *subscription) nextRef() string {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.ref++
	return strconv.Itoa(s.ref)
}

func (s *subscription) send(msg map[string]any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return s.conn.WriteJSON(msg)
}

// signal asks for a re-read. Pending requests coalesce into one.
func (s *subscription) signal() {
	select {
	case s.refresh <- struct{}{}:
	default:
	}
}

func (s *subscription) readLoop() {
	for {
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
			default:
				s.shutdown(fmt.Errorf("realtime connection lost: %w", err))
			}
			return
		}
		if err := s.handle(msg); err != nil {
			s.shutdown(err)
			return
		}
	}
}

// handle reacts to one phoenix message.
func (s *subscription) handle(msg []byte) error {
	event := gjson.GetBytes(msg, "event").String()
	topic := gjson.GetBytes(msg, "topic").String()
	if topic != "" && topic != s.topic {
		return nil
	}

	switch event {
	case "phx_reply":
		if gjson.GetBytes(msg, "ref").String() != s.joinRef {
			return nil
		}
		if status := gjson.GetBytes(msg, "payload.status").String(); status != "ok" {
			return fmt.Errorf("join rejected: %s", gjson.GetBytes(msg, "payload.response").Raw)
		}
	case "phx_error":
		return errors.New("realtime channel error")
	case "phx_close":
		return errors.New("realtime channel closed by server")
	case "postgres_changes", "INSERT", "UPDATE", "DELETE":
		if s.touchesDate(msg) {
			s.signal()
		}
	}
	return nil
}

// touchesDate reports whether a change event concerns the subscribed date.
// Events that carry no date are assumed to.
func (s *subscription) touchesDate(msg []byte) bool {
	seen := false
	for _, path := range []string{
		"payload.data.record.date",
		"payload.data.old_record.date",
		"payload.record.date",
		"payload.old_record.date",
	} {
		d := gjson.GetBytes(msg, path)
		if !d.Exists() {
			continue
		}
		seen = true
		if d.String() == string(s.date) {
			return true
		}
	}
	return !seen
}

// refreshLoop performs re-reads one at a time so snapshots arrive in order.
func (s *subscription) refreshLoop() {
	for {
		select {
		case <-s.done:
			return
		case <-s.refresh:
		}

		log, err := s.client.ReadDay(s.ctx, s.userID, s.date)
		select {
		case <-s.done:
			return
		default:
		}
		if err != nil {
			s.shutdown(fmt.Errorf("realtime re-read: %w", err))
			return
		}
		if log == nil {
			log = model.NewDailyLog(s.userID, s.date)
		}
		s.onData(log)
	}
}

func (s *subscription) heartbeat() {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			msg := map[string]any{
				"topic":   "phoenix",
				"event":   "heartbeat",
				"payload": map[string]any{},
				"ref":     s.nextRef(),
			}
			if err := s.send(msg); err != nil {
				s.shutdown(fmt.Errorf("heartbeat: %w", err))
				return
			}
		}
	}
}

// shutdown ends the subscription. A non-nil err is reported through onError.
func (s *subscription) shutdown(err error) {
	s.closeOnce.Do(func() {
		close(s.done)
		s.cancel()

		if err == nil {
			leave := map[string]any{
				"topic":    s.topic,
				"event":    "phx_leave",
				"payload":  map[string]any{},
				"ref":      s.nextRef(),
				"join_ref": s.joinRef,
			}
			s.send(leave)
			s.writeMu.Lock()
			s.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			s.writeMu.Unlock()
		}
		s.conn.Close()

		if err != nil {
			s.client.logger.Warn("realtime subscription ended",
				slog.String("user_id", s.userID),
				slog.String("date", s.date.String()),
				slog.String("error", err.Error()),
			)
			if s.onError != nil {
				s.onError(err)
			}
		}
	})
}
