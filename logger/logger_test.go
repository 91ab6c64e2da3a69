package logger

import "testing"

func TestLoggerFunctions(t *testing.T) {
	Init("invalid") // should default to info
	if log == nil {
		t.Fatal("log not initialized")
	}
	if log.GetLevel().String() != "info" {
		t.Fatalf("expected info level, got %s", log.GetLevel())
	}
	// Avoid os.Exit on Fatal
	log.ExitFunc = func(int) {}

	Debug("debug")
	Info("info")
	Warn("warn")
	Error("error")
	Debugf("%s", "debugf")
	Infof("%s", "infof")
	Warnf("%s", "warnf")
	Errorf("%s", "errorf")
	WithField("path", "/tmp/x").Info("field")
	Fatal("fatal")
	Fatalf("%s", "fatalf")
}

func TestInitLevel(t *testing.T) {
	Init("debug")
	if log.GetLevel().String() != "debug" {
		t.Fatalf("expected debug level, got %s", log.GetLevel())
	}
}
