package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
)

const (
	EventExpired = "expired"

	subscriberBuffer = 16
)

// Event is one message on the /api/events stream.
type Event struct {
	Type   string `json:"type"`
	TaskID string `json:"taskId"`
	At     int64  `json:"at"`
}

// Broker fans store notifications out to every connected event stream.
// Slow subscribers drop events instead of blocking the store.
type Broker struct {
	now func() time.Time
	log log.FieldLogger

	mu   sync.Mutex
	subs map[chan Event]struct{}
}

func NewBroker(now func() time.Time, logger log.FieldLogger) *Broker {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Broker{
		now:  now,
		log:  logger.WithField("component", "api.events"),
		subs: make(map[chan Event]struct{}),
	}
}

func (b *Broker) subscribe() chan Event {
	ch := make(chan Event, subscriberBuffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Broker) unsubscribe(ch chan Event) {
	b.mu.Lock()
	delete(b.subs, ch)
	b.mu.Unlock()
}

// Subscribers reports how many streams are connected.
func (b *Broker) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *Broker) notify(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.log.WithField("task", ev.TaskID).Warn("subscriber lagging; event dropped")
		}
	}
}

// Expired has the shape of a store expiry callback.
func (b *Broker) Expired(id string) {
	b.notify(Event{Type: EventExpired, TaskID: id, At: b.now().UnixMilli()})
}

func streamEvents(broker *Broker) echo.HandlerFunc {
	return func(c echo.Context) error {
		res := c.Response()
		res.Header().Set(echo.HeaderContentType, "text/event-stream")
		res.Header().Set(echo.HeaderCacheControl, "no-cache")
		res.Header().Set(echo.HeaderConnection, "keep-alive")
		res.Header().Set("X-Accel-Buffering", "no")
		flusher, ok := res.Writer.(http.Flusher)
		if !ok {
			return c.String(http.StatusInternalServerError, "stream unsupported")
		}
		ctx := c.Request().Context()
		ch := broker.subscribe()
		defer broker.unsubscribe(ch)

		res.WriteHeader(http.StatusOK)
		if _, err := res.Write([]byte(": connected\n\n")); err != nil {
			return err
		}
		flusher.Flush()
		for {
			select {
			case <-ctx.Done():
				return nil
			case ev := <-ch:
				data, err := sonic.ConfigStd.Marshal(ev)
				if err != nil {
					c.Logger().Error(err)
					return err
				}
				if _, err := res.Write([]byte("event: " + ev.Type + "\ndata: ")); err != nil {
					return err
				}
				if _, err := res.Write(data); err != nil {
					return err
				}
				if _, err := res.Write([]byte("\n\n")); err != nil {
					return err
				}
				flusher.Flush()
			}
		}
	}
}
