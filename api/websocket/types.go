package websocket

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/0xmhha/explorer-indexer/events"
	"github.com/ethereum/go-ethereum/common"
)

// Message types exchanged with clients
const (
	MessageSubscribe   = "subscribe"
	MessageUnsubscribe = "unsubscribe"
	MessagePing        = "ping"
	MessagePong        = "pong"
	MessageSuccess     = "success"
	MessageError       = "error"
	MessageEvent       = "event"
)

// Message represents a WebSocket message
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// SubscribeRequest is the payload of subscribe and unsubscribe messages.
// Topic is "blocks", "transactions" or "address"; the latter requires
// Address.
type SubscribeRequest struct {
	Topic   string `json:"topic"`
	Address string `json:"address,omitempty"`
}

// ResolveTopic returns the hub topic named by the request
func (r SubscribeRequest) ResolveTopic() (string, error) {
	switch r.Topic {
	case events.TopicBlocks, events.TopicTransactions:
		return r.Topic, nil
	case events.TopicAddress:
		if !common.IsHexAddress(r.Address) {
			return "", fmt.Errorf("invalid address %q", r.Address)
		}
		return events.AddressTopic(common.HexToAddress(r.Address)), nil
	}

	if addr, ok := strings.CutPrefix(r.Topic, events.TopicAddress+":"); ok && common.IsHexAddress(addr) {
		return events.AddressTopic(common.HexToAddress(addr)), nil
	}
	return "", fmt.Errorf("unknown topic %q", r.Topic)
}

// ErrorMessage represents an error message
type ErrorMessage struct {
	Error string `json:"error"`
}

// SuccessMessage represents a success message
type SuccessMessage struct {
	Message string `json:"message"`
	Topic   string `json:"topic,omitempty"`
}

func encode(msgType string, payload interface{}) ([]byte, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		raw = data
	}
	return json.Marshal(Message{Type: msgType, Payload: raw})
}
