package email

import "testing"

func TestIsConfigured(t *testing.T) {
	if NewService(Config{}).IsConfigured() {
		t.Error("empty config should not count as configured")
	}
	if !NewService(Config{Host: "localhost", Port: "1025"}).IsConfigured() {
		t.Error("host+port should count as configured")
	}
}

func TestSendValidation(t *testing.T) {
	unconfigured := NewService(Config{})
	if err := unconfigured.Send(Message{To: "a@example.com"}); err == nil {
		t.Error("sending without configuration should fail")
	}

	configured := NewService(Config{Host: "localhost", Port: "1025"})
	if err := configured.Send(Message{}); err == nil {
		t.Error("sending without a recipient should fail")
	}
}
