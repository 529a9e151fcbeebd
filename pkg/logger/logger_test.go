package logger

import (
	"testing"

	"github.com/sirupsen/logrus"
)

func TestNewSetsLevelAndFormat(t *testing.T) {
	cfg := LoggingConfig{Level: "debug", Format: "json", Output: "discard"}
	log := New(cfg)
	if log.GetLevel().String() != "debug" {
		t.Fatalf("expected level debug, got %s", log.GetLevel())
	}
	if _, ok := log.Formatter.(*logrus.JSONFormatter); !ok {
		t.Fatalf("expected JSON formatter, got %T", log.Formatter)
	}
}

func TestNewFallsBackToInfoOnBadLevel(t *testing.T) {
	log := New(LoggingConfig{Level: "nope", Output: "discard"})
	if log.GetLevel().String() != "info" {
		t.Fatalf("expected info fallback, got %s", log.GetLevel())
	}
}

func TestNewDefaultAttachesComponent(t *testing.T) {
	log := NewDefault("reactor")
	entry := log.WithField("k", "v")
	if entry == nil {
		t.Fatal("expected entry")
	}
	if len(log.Hooks) == 0 {
		t.Fatal("expected component hook installed")
	}
}
