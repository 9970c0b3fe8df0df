// Package kvstore is the replica-local cursor store: a durable string map
// spoken to through a small request/response protocol.
package kvstore

import "fmt"

// Performative tags a Message.
type Performative int

const (
	ReadRequest Performative = iota + 1
	CreateOrUpdateRequest
	ReadResponse
	Success
	Error
)

func (p Performative) String() string {
	switch p {
	case ReadRequest:
		return "read_request"
	case CreateOrUpdateRequest:
		return "create_or_update_request"
	case ReadResponse:
		return "read_response"
	case Success:
		return "success"
	case Error:
		return "error"
	default:
		return fmt.Sprintf("performative(%d)", int(p))
	}
}

// Message is both request and response. Keys is set on READ_REQUEST, Data on
// CREATE_OR_UPDATE_REQUEST and READ_RESPONSE, Reason on ERROR.
type Message struct {
	Performative Performative
	Keys         []string
	Data         map[string]string
	Reason       string
}

func NewReadRequest(keys ...string) Message {
	return Message{Performative: ReadRequest, Keys: keys}
}

func NewCreateOrUpdateRequest(data map[string]string) Message {
	return Message{Performative: CreateOrUpdateRequest, Data: data}
}

func errorMessage(reason string) Message {
	return Message{Performative: Error, Reason: reason}
}
