package kvstore

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/dvilelaf/tsunami/pkg/logging"
)

// ErrUnsupportedPerformative is reported for inbound messages that are not
// requests.
var ErrUnsupportedPerformative = errors.New("performative not supported")

// Backend is the durable map behind a Connection.
type Backend interface {
	// Read returns the subset of keys that exist.
	Read(ctx context.Context, keys []string) (map[string]string, error)
	// Upsert writes every pair atomically, overwriting existing keys.
	Upsert(ctx context.Context, data map[string]string) error
	Ping(ctx context.Context) error
	Close() error
}

type handlerFunc func(ctx context.Context, msg Message) Message

// Connection dispatches request messages to the backend.
type Connection struct {
	backend  Backend
	logger   logging.Logger
	handlers map[Performative]handlerFunc
}

func NewConnection(backend Backend, logger logging.Logger) *Connection {
	c := &Connection{backend: backend, logger: logger}
	c.handlers = map[Performative]handlerFunc{
		ReadRequest:           c.handleRead,
		CreateOrUpdateRequest: c.handleCreateOrUpdate,
	}
	return c
}

// Handle answers one request. It never returns an error; failures are
// reported as ERROR messages.
func (c *Connection) Handle(ctx context.Context, msg Message) Message {
	handler, ok := c.handlers[msg.Performative]
	if !ok {
		c.logger.WithField("performative", msg.Performative.String()).Warn("Unsupported performative")
		return errorMessage(fmt.Sprintf("%s: %s", ErrUnsupportedPerformative, msg.Performative))
	}
	resp := handler(ctx, msg)
	storeOps.WithLabelValues(msg.Performative.String(), resp.Performative.String()).Inc()
	return resp
}

func (c *Connection) handleRead(ctx context.Context, msg Message) Message {
	data, err := c.backend.Read(ctx, dedupe(msg.Keys))
	if err != nil {
		c.logger.WithError(err).WithField("keys", msg.Keys).Error("Store read failed")
		return errorMessage(err.Error())
	}
	return Message{Performative: ReadResponse, Data: data}
}

func (c *Connection) handleCreateOrUpdate(ctx context.Context, msg Message) Message {
	if len(msg.Data) == 0 {
		return Message{Performative: Success}
	}
	if err := c.backend.Upsert(ctx, msg.Data); err != nil {
		c.logger.WithError(err).WithField("keys", sortedKeys(msg.Data)).Error("Store write failed")
		return errorMessage(err.Error())
	}
	return Message{Performative: Success}
}

func (c *Connection) Ping(ctx context.Context) error { return c.backend.Ping(ctx) }

func (c *Connection) Close() error { return c.backend.Close() }

func dedupe(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
