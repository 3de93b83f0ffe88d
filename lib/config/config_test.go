package config

import "testing"

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default() config failed Validate: %v", err)
	}
}

func TestValidateRejectsNegativeDimensions(t *testing.T) {
	cfg := Default()
	cfg.Width = -1
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected an error for negative width, got nil")
	}

	cfg = Default()
	cfg.Height = -1
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected an error for negative height, got nil")
	}
}

func TestValidateForcesHardwareOnWithoutSoftwareFallback(t *testing.T) {
	cfg := &Config{EnableHardwareAcceleration: false, SoftwareFallbackCompiledIn: false}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() returned an error: %v", err)
	}
	if !cfg.EnableHardwareAcceleration {
		t.Fatal("expected EnableHardwareAcceleration to be forced true when software fallback is unavailable")
	}
}

func TestParseMissingFile(t *testing.T) {
	if _, err := Parse("/nonexistent/path/bridge.yaml"); err == nil {
		t.Fatal("expected an error for a missing config file, got nil")
	}
}
