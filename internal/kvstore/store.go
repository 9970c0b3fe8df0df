package kvstore

import (
	"context"
	"errors"
	"fmt"
)

// Store is the typed client side of the protocol used by the pipeline.
type Store struct {
	conn *Connection
}

func NewStore(conn *Connection) *Store {
	return &Store{conn: conn}
}

// Read returns the stored values for the keys that exist.
func (s *Store) Read(ctx context.Context, keys ...string) (map[string]string, error) {
	resp := s.conn.Handle(ctx, NewReadRequest(keys...))
	switch resp.Performative {
	case ReadResponse:
		if resp.Data == nil {
			return map[string]string{}, nil
		}
		return resp.Data, nil
	case Error:
		return nil, fmt.Errorf("store read: %s", resp.Reason)
	default:
		return nil, fmt.Errorf("store read: unexpected %s", resp.Performative)
	}
}

// Get reads a single key.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	data, err := s.Read(ctx, key)
	if err != nil {
		return "", false, err
	}
	v, ok := data[key]
	return v, ok, nil
}

// Write upserts all pairs in one request.
func (s *Store) Write(ctx context.Context, data map[string]string) error {
	resp := s.conn.Handle(ctx, NewCreateOrUpdateRequest(data))
	switch resp.Performative {
	case Success:
		return nil
	case Error:
		return fmt.Errorf("store write: %s", resp.Reason)
	default:
		return errors.New("store write: unexpected " + resp.Performative.String())
	}
}

func (s *Store) Ping(ctx context.Context) error { return s.conn.Ping(ctx) }

func (s *Store) Close() error { return s.conn.Close() }
