package config_test

import (
	"testing"

	"github.com/ogon-project/ogon-sessiond/internal/config"
)

func TestPropertyStoreGlobalFallback(t *testing.T) {
	s := config.NewPropertyStore()
	s.SetGlobalString("shell", "/bin/sh")

	v, ok := s.GetString(1, "alice", "shell")
	if !ok || v != "/bin/sh" {
		t.Fatalf("GetString() = (%q, %v), want (/bin/sh, true)", v, ok)
	}
}

func TestPropertyStoreUserShadowsGlobal(t *testing.T) {
	s := config.NewPropertyStore()
	s.SetGlobalString("shell", "/bin/sh")
	s.SetUserString("alice", "shell", "/bin/zsh")

	v, ok := s.GetString(1, "alice", "shell")
	if !ok || v != "/bin/zsh" {
		t.Fatalf("GetString() = (%q, %v), want (/bin/zsh, true)", v, ok)
	}

	// A different user still sees the global value.
	v, ok = s.GetString(2, "bob", "shell")
	if !ok || v != "/bin/sh" {
		t.Fatalf("GetString(bob) = (%q, %v), want (/bin/sh, true)", v, ok)
	}
}

func TestPropertyStoreSessionShadowsUserAndGlobal(t *testing.T) {
	s := config.NewPropertyStore()
	s.SetGlobalNumber("color_depth", 16)
	s.SetUserNumber("alice", "color_depth", 24)
	s.SetSessionNumber(7, "color_depth", 32)

	v, ok := s.GetNumber(7, "alice", "color_depth")
	if !ok || v != 32 {
		t.Fatalf("GetNumber(session 7) = (%d, %v), want (32, true)", v, ok)
	}

	v, ok = s.GetNumber(8, "alice", "color_depth")
	if !ok || v != 24 {
		t.Fatalf("GetNumber(session 8) = (%d, %v), want (24, true)", v, ok)
	}
}

func TestPropertyStoreTypeMismatchMisses(t *testing.T) {
	s := config.NewPropertyStore()
	s.SetGlobalBool("enabled", true)

	if _, ok := s.GetNumber(1, "alice", "enabled"); ok {
		t.Fatal("GetNumber() on a bool property should miss")
	}
	if v, ok := s.GetBool(1, "alice", "enabled"); !ok || !v {
		t.Fatalf("GetBool() = (%v, %v), want (true, true)", v, ok)
	}
}

func TestPropertyStoreClearSessionRemovesOverrides(t *testing.T) {
	s := config.NewPropertyStore()
	s.SetGlobalNumber("color_depth", 16)
	s.SetSessionNumber(7, "color_depth", 32)

	s.ClearSession(7)

	v, ok := s.GetNumber(7, "alice", "color_depth")
	if !ok || v != 16 {
		t.Fatalf("GetNumber() after ClearSession = (%d, %v), want (16, true)", v, ok)
	}
}

func TestPropertyStoreMissingPropertyMisses(t *testing.T) {
	s := config.NewPropertyStore()
	if _, ok := s.GetString(1, "alice", "nope"); ok {
		t.Fatal("GetString() on unset property should miss")
	}
}
