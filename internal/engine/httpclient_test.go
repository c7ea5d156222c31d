package engine

import "testing"

func TestNewFetchClient(t *testing.T) {
	c := NewFetchClient()
	if c == nil {
		t.Fatal("NewFetchClient() returned nil")
	}
	if c.Timeout != 0 {
		t.Errorf("client timeout = %s, want 0 (deadline comes from context)", c.Timeout)
	}
	if c.CheckRedirect == nil {
		t.Error("redirect policy not set")
	}
}

func TestRandomUserAgent(t *testing.T) {
	ua := RandomUserAgent()
	if len(ua) < 20 {
		t.Errorf("user-agent too short: %q", ua)
	}
}
