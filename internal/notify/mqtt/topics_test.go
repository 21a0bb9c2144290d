package mqtt

import "testing"

func TestTopics_Event(t *testing.T) {
	topics := Topics{TopicRoot: "pyde1"}
	if got, want := topics.Event("state_update"), "pyde1/state_update"; got != want {
		t.Errorf("Event() = %q, want %q", got, want)
	}
}

func TestTopics_UpdateDE1(t *testing.T) {
	topics := Topics{TopicRoot: "pyde1"}
	if got, want := topics.UpdateDE1("state"), "pyde1/update/de1/state"; got != want {
		t.Errorf("UpdateDE1() = %q, want %q", got, want)
	}
}

func TestTopics_Status(t *testing.T) {
	topics := Topics{TopicRoot: "pyde1"}
	if got, want := topics.Status(), "pyde1/system/status"; got != want {
		t.Errorf("Status() = %q, want %q", got, want)
	}
}

func TestTopics_Wildcards(t *testing.T) {
	topics := Topics{TopicRoot: "pyde1"}
	if got, want := topics.AllEvents(), "pyde1/+"; got != want {
		t.Errorf("AllEvents() = %q, want %q", got, want)
	}
	if got, want := topics.AllUpdateDE1(), "pyde1/update/de1/+"; got != want {
		t.Errorf("AllUpdateDE1() = %q, want %q", got, want)
	}
}
