package notify

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/haasonsaas/hearth/internal/hub"
)

type fakeHub struct {
	states  map[string]hub.EntityState
	targets []string
	sent    []sentNotification
}

type sentNotification struct {
	target, message, title string
	testMode               bool
}

func (f *fakeHub) FetchStates(context.Context) (map[string]hub.EntityState, error) {
	return f.states, nil
}

func (f *fakeHub) NotifyTargets(context.Context) ([]string, error) {
	return f.targets, nil
}

func (f *fakeHub) SendNotification(_ context.Context, target, message, title string, testMode bool) error {
	f.sent = append(f.sent, sentNotification{target, message, title, testMode})
	return nil
}

func execute(t *testing.T, s *Server, name, params string) (string, bool) {
	t.Helper()
	for _, tool := range s.Tools() {
		if tool.Name() != name {
			continue
		}
		result, err := tool.Execute(context.Background(), json.RawMessage(params))
		if err != nil {
			t.Fatalf("%s error = %v", name, err)
		}
		return result.Content, result.IsError
	}
	t.Fatalf("tool %s not exposed", name)
	return "", false
}

func TestListTargets(t *testing.T) {
	s := NewServer(&fakeHub{targets: []string{"persistent_notification", "mobile_app_janes_phone"}}, false)
	content, isErr := execute(t, s, "list-notify-targets", `{}`)
	if isErr || !strings.Contains(content, "mobile_app_janes_phone") {
		t.Fatalf("targets = %s", content)
	}
}

func TestListPeople(t *testing.T) {
	s := NewServer(&fakeHub{states: map[string]hub.EntityState{
		"person.jane":  {EntityID: "person.jane", State: "home", Attributes: map[string]any{"friendly_name": "Jane Doe"}},
		"light.porch":  {EntityID: "light.porch", State: "off"},
		"person.robin": {EntityID: "person.robin", State: "not_home"},
	}}, false)
	content, isErr := execute(t, s, "list-people", `{}`)
	if isErr {
		t.Fatalf("list-people errored: %s", content)
	}
	if !strings.Contains(content, "person.jane") || !strings.Contains(content, "person.robin") {
		t.Fatalf("people missing: %s", content)
	}
	if strings.Contains(content, "light.porch") {
		t.Fatalf("non-person leaked: %s", content)
	}
}

func TestSendNotificationToPerson(t *testing.T) {
	f := &fakeHub{targets: []string{"persistent_notification", "mobile_app_janes_phone"}}
	s := NewServer(f, true)

	content, isErr := execute(t, s, "send-notification-to-person",
		`{"person":"Jane Doe","message":"laundry is done","title":"Laundry"}`)
	if isErr {
		t.Fatalf("send errored: %s", content)
	}
	if len(f.sent) != 1 {
		t.Fatalf("sent = %d, want 1", len(f.sent))
	}
	got := f.sent[0]
	if got.target != "mobile_app_janes_phone" {
		t.Fatalf("target = %q", got.target)
	}
	if got.message != "laundry is done" || got.title != "Laundry" || !got.testMode {
		t.Fatalf("sent = %+v", got)
	}
}

func TestSendNotificationToUnknownPerson(t *testing.T) {
	f := &fakeHub{targets: []string{"persistent_notification"}}
	s := NewServer(f, false)
	content, isErr := execute(t, s, "send-notification-to-person",
		`{"person":"Nobody","message":"hi"}`)
	if !isErr || !strings.Contains(content, "Nobody") {
		t.Fatalf("unknown person did not error: %s", content)
	}
	if len(f.sent) != 0 {
		t.Fatalf("notification sent despite no match")
	}
}

func TestSendNotificationDirect(t *testing.T) {
	f := &fakeHub{}
	s := NewServer(f, false)
	_, isErr := execute(t, s, "send-notification",
		`{"target":"mobile_app_janes_phone","message":"door open"}`)
	if isErr {
		t.Fatal("direct send errored")
	}
	if len(f.sent) != 1 || f.sent[0].target != "mobile_app_janes_phone" {
		t.Fatalf("sent = %+v", f.sent)
	}
}
