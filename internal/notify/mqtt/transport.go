package mqtt

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nerrad567/pyde1-core/internal/domain"
	"github.com/nerrad567/pyde1-core/internal/eventbus"
)

// wireEvent is the JSON envelope published for every bus event: every
// spec.md §3 "Event" field, with times formatted as RFC 3339.
type wireEvent struct {
	Kind        domain.EventKind `json:"kind"`
	Sender      string           `json:"sender"`
	Version     string           `json:"version"`
	ArrivalTime string           `json:"arrival_time,omitempty"`
	CreateTime  string           `json:"create_time"`
	EventTime   string           `json:"event_time"`
	SequenceID  string           `json:"sequence_id"`
	Payload     any              `json:"payload"`
}

// busEventKinds is the full set of event kinds republished to MQTT.
var busEventKinds = []domain.EventKind{
	domain.KindStateUpdate,
	domain.KindShotSample,
	domain.KindWeightAndFlow,
	domain.KindWaterLevel,
	domain.KindSequencerGate,
	domain.KindStopAt,
	domain.KindScaleTare,
	domain.KindAutoTare,
	domain.KindScaleButton,
	domain.KindConnectivity,
	domain.KindDeviceAvailability,
	domain.KindDeviceChanged,
	domain.KindBlueDotUpdate,
	domain.KindAdvertisementSeen,
}

// Transport publishes every bus event, retained, to its `{TopicRoot}/{Kind}`
// topic and maintains the retained `update/de1/state` sync topic (spec.md §6
// "Notification surface").
type Transport struct {
	client *Client
	topics Topics
	logger Logger

	subs []eventbus.Subscription
}

// NewTransport creates a Transport bound to client, using topicRoot for
// every topic it publishes or maintains.
func NewTransport(client *Client, topicRoot string) *Transport {
	return &Transport{client: client, topics: Topics{TopicRoot: topicRoot}}
}

// SetLogger sets a logger for publish failures.
func (t *Transport) SetLogger(l Logger) { t.logger = l }

// Run subscribes to every bus event kind and begins republishing to MQTT.
// It unsubscribes when ctx is cancelled.
func (t *Transport) Run(ctx context.Context, bus *eventbus.Bus) {
	for _, kind := range busEventKinds {
		k := kind
		sub := bus.Subscribe(k, func(ev domain.Event) { t.publish(ev) })
		t.subs = append(t.subs, sub)
	}

	go func() {
		<-ctx.Done()
		for _, sub := range t.subs {
			bus.Unsubscribe(sub)
		}
	}()
}

func (t *Transport) publish(ev domain.Event) {
	wire := wireEvent{
		Kind:        ev.Kind,
		Sender:      ev.Sender,
		Version:     ev.Version,
		ArrivalTime: formatTime(ev.ArrivalTime),
		CreateTime:  formatTime(ev.CreateTime),
		EventTime:   formatTime(ev.EventTime),
		SequenceID:  ev.SequenceID,
		Payload:     ev.Payload,
	}
	data, err := json.Marshal(wire)
	if err != nil {
		if t.logger != nil {
			t.logger.Error("failed to marshal event for MQTT publish", "kind", ev.Kind, "error", err)
		}
		return
	}

	topic := t.topics.Event(string(ev.Kind))
	if err := t.client.Publish(topic, data, 0, true); err != nil {
		if t.logger != nil {
			t.logger.Warn("failed to publish event", "topic", topic, "error", err)
		}
	}

	if ev.Kind == domain.KindStateUpdate {
		t.publishStateSync(data)
	}
}

// publishStateSync refreshes the retained update/de1/state topic so a UI
// that just connected sees the current machine state immediately, without
// waiting for the next transition.
func (t *Transport) publishStateSync(data []byte) {
	topic := t.topics.UpdateDE1("state")
	if err := t.client.PublishRetained(topic, data); err != nil {
		if t.logger != nil {
			t.logger.Warn("failed to publish state sync", "topic", topic, "error", err)
		}
	}
}

func formatTime(v time.Time) string {
	if v.IsZero() {
		return ""
	}
	return v.Format(time.RFC3339Nano)
}
