package mqtt

import "fmt"

// Topics provides builders for pyde1-core's MQTT topic scheme, rooted at
// the configured TopicRoot (spec.md §6 "Notification surface").
//
//	topics := mqtt.Topics{TopicRoot: "pyde1"}
//	topics.Event("state_update") // "pyde1/state_update"
type Topics struct {
	TopicRoot string
}

// Event returns the topic every occurrence of an event kind is published
// to: "{TOPIC_ROOT}/{Kind}".
func (t Topics) Event(kind string) string {
	return fmt.Sprintf("%s/%s", t.TopicRoot, kind)
}

// Status returns the topic for this instance's online/offline status,
// carried by the LWT and the graceful-shutdown message.
func (t Topics) Status() string {
	return fmt.Sprintf("%s/system/status", t.TopicRoot)
}

// UpdateDE1 returns one of the `update/de1/*` sync topics a UI polls for
// the current value of a resource instead of replaying the event stream:
// e.g. UpdateDE1("state") -> "pyde1/update/de1/state".
func (t Topics) UpdateDE1(resource string) string {
	return fmt.Sprintf("%s/update/de1/%s", t.TopicRoot, resource)
}

// AllEvents returns a pattern matching every event-kind topic.
func (t Topics) AllEvents() string {
	return fmt.Sprintf("%s/+", t.TopicRoot)
}

// AllUpdateDE1 returns a pattern matching every `update/de1/*` sync topic.
func (t Topics) AllUpdateDE1() string {
	return fmt.Sprintf("%s/update/de1/+", t.TopicRoot)
}
