package zotero

import (
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/tidwall/gjson"
)

// EventKind names a stream event. Server events use the wire name; Open,
// Close, and Error are produced locally.
type EventKind string

const (
	EventOpen                 EventKind = "open"
	EventClose                EventKind = "close"
	EventError                EventKind = "error"
	EventConnected            EventKind = "connected"
	EventSubscriptionsCreated EventKind = "subscriptionsCreated"
	EventSubscriptionsDeleted EventKind = "subscriptionsDeleted"
	EventTopicAdded           EventKind = "topicAdded"
	EventTopicRemoved         EventKind = "topicRemoved"
	EventTopicUpdated         EventKind = "topicUpdated"
)

// SubscriptionError reports a topic the server refused to subscribe.
type SubscriptionError struct {
	APIKey string `json:"apiKey,omitempty"`
	Topic  string `json:"topic,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Event is delivered to the stream's event handler. Fields not carried by
// a kind are left zero.
type Event struct {
	Kind EventKind

	// connected
	Retry  time.Duration
	Topics []string

	// subscriptionsCreated
	Subscriptions []Subscription
	Errors        []SubscriptionError

	// topicAdded, topicRemoved, topicUpdated
	Topic   string
	APIKey  string
	Version int64

	// close
	Code int

	// error, and close when the transport failed
	Err error

	// server events
	Raw []byte
}

const (
	actionCreateSubscriptions = "createSubscriptions"
	actionDeleteSubscriptions = "deleteSubscriptions"
)

type wireRequest struct {
	Action        string         `json:"action"`
	Subscriptions []Subscription `json:"subscriptions"`
}

type wireEvent struct {
	Event         string              `json:"event"`
	Retry         int64               `json:"retry,omitempty"`
	Topics        []string            `json:"topics,omitempty"`
	Topic         string              `json:"topic,omitempty"`
	APIKey        string              `json:"apiKey,omitempty"`
	Version       int64               `json:"version,omitempty"`
	Subscriptions []Subscription      `json:"subscriptions,omitempty"`
	Errors        []SubscriptionError `json:"errors,omitempty"`
}

func encodeRequest(action string, subs []Subscription) ([]byte, error) {
	if subs == nil {
		subs = []Subscription{}
	}
	data, err := sonic.ConfigStd.Marshal(wireRequest{Action: action, Subscriptions: subs})
	if err != nil {
		return nil, fmt.Errorf("zotero: encode %s: %w", action, err)
	}
	return data, nil
}

// decodeEvent parses an inbound frame. Frames that are not JSON objects,
// lack a string "event", or lack the topic of a topic event are
// ErrMalformedEvent.
func decodeEvent(data []byte) (Event, error) {
	if !gjson.ValidBytes(data) {
		return Event{}, fmt.Errorf("%w: invalid json", ErrMalformedEvent)
	}
	kind := gjson.GetBytes(data, "event")
	if kind.Type != gjson.String || kind.Str == "" {
		return Event{}, fmt.Errorf("%w: missing event field", ErrMalformedEvent)
	}

	var w wireEvent
	if err := sonic.ConfigStd.Unmarshal(data, &w); err != nil {
		return Event{}, fmt.Errorf("%w: %s: %v", ErrMalformedEvent, kind.Str, err)
	}

	ev := Event{
		Kind:          EventKind(w.Event),
		Retry:         time.Duration(w.Retry) * time.Millisecond,
		Topics:        w.Topics,
		Subscriptions: w.Subscriptions,
		Errors:        w.Errors,
		Topic:         w.Topic,
		APIKey:        w.APIKey,
		Version:       w.Version,
		Raw:           data,
	}
	switch ev.Kind {
	case EventTopicAdded, EventTopicRemoved, EventTopicUpdated:
		if ev.Topic == "" {
			return Event{}, fmt.Errorf("%w: %s without topic", ErrMalformedEvent, ev.Kind)
		}
	}
	return ev, nil
}
