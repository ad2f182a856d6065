package toolhost_test

import (
	"context"
	"strings"
	"testing"

	"github.com/MrWong99/sentrycore/internal/toolhost"
)

func TestCallToolBeforeConnectReturnsError(t *testing.T) {
	c := toolhost.New("/usr/bin/true", nil, nil)
	_, err := c.CallTool(context.Background(), "files.read", "{}")
	if err == nil {
		t.Fatal("expected error calling a tool before Connect")
	}
	if !strings.Contains(err.Error(), "not connected") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestListToolsBeforeConnectReturnsError(t *testing.T) {
	c := toolhost.New("/usr/bin/true", nil, nil)
	_, err := c.ListTools(context.Background())
	if err == nil {
		t.Fatal("expected error listing tools before Connect")
	}
}

func TestConnectWithoutCommandFails(t *testing.T) {
	c := toolhost.New("", nil, nil)
	if err := c.Connect(context.Background()); err == nil {
		t.Fatal("expected error connecting with no command configured")
	}
}

func TestCloseWithoutConnectIsNoop(t *testing.T) {
	c := toolhost.New("/usr/bin/true", nil, nil)
	if err := c.Close(); err != nil {
		t.Fatalf("Close before Connect should be a no-op, got %v", err)
	}
}
