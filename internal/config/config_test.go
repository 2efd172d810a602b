package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	t.Setenv("VOXRELAY_PRIMARY_HOST", "10.0.0.5")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Primary.Port != 10200 {
		t.Fatalf("expected default primary port, got %d", cfg.Primary.Port)
	}
	if cfg.Synthesis.ProbeTimeoutMS != 500 {
		t.Fatalf("expected default probe timeout, got %d", cfg.Synthesis.ProbeTimeoutMS)
	}
	if cfg.Synthesis.SentenceMaxChars != 240 {
		t.Fatalf("expected default sentence ceiling, got %d", cfg.Synthesis.SentenceMaxChars)
	}
	if cfg.Fallback.Configured() {
		t.Fatal("fallback should not be configured by default")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("VOXRELAY_PRIMARY_HOST", "tts-primary")
	t.Setenv("VOXRELAY_PRIMARY_PORT", "10201")
	t.Setenv("VOXRELAY_PRIMARY_VOICE", "en_US-amy-medium")
	t.Setenv("VOXRELAY_PRIMARY_STREAMING", "true")
	t.Setenv("VOXRELAY_FALLBACK_HOST", "tts-fallback")
	t.Setenv("VOXRELAY_FALLBACK_PORT", "10300")
	t.Setenv("VOXRELAY_FALLBACK_SAMPLE_RATE", "16000")
	t.Setenv("VOXRELAY_SYNTHESIS_READ_TIMEOUT_MS", "15000")
	t.Setenv("VOXRELAY_SYNTHESIS_SENTENCE_MAX_CHARS", "200")
	t.Setenv("VOXRELAY_BUS_ENABLED", "true")
	t.Setenv("VOXRELAY_BUS_SERVERS", "nats://one:4222, nats://two:4222")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Primary.Host != "tts-primary" || cfg.Primary.Port != 10201 {
		t.Fatalf("expected primary override, got %s:%d", cfg.Primary.Host, cfg.Primary.Port)
	}
	if cfg.Primary.Voice != "en_US-amy-medium" {
		t.Fatalf("expected voice override, got %q", cfg.Primary.Voice)
	}
	if !cfg.Primary.Streaming {
		t.Fatal("expected streaming override true")
	}
	if !cfg.Fallback.Configured() {
		t.Fatal("expected fallback to be configured")
	}
	if cfg.Fallback.SampleRate != 16000 {
		t.Fatalf("expected fallback sample rate override, got %d", cfg.Fallback.SampleRate)
	}
	if cfg.Synthesis.ReadTimeoutMS != 15000 {
		t.Fatalf("expected read timeout override, got %d", cfg.Synthesis.ReadTimeoutMS)
	}
	if cfg.Synthesis.SentenceMaxChars != 200 {
		t.Fatalf("expected sentence ceiling override, got %d", cfg.Synthesis.SentenceMaxChars)
	}
	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 bus servers, got %v", cfg.Bus.Servers)
	}
}

func TestValidateRejectsMissingPrimary(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatal("expected error when primary host is unset")
	}
}

func TestValidateRejectsTimeoutInversion(t *testing.T) {
	t.Setenv("VOXRELAY_PRIMARY_HOST", "tts-primary")
	t.Setenv("VOXRELAY_SYNTHESIS_PROBE_TIMEOUT_MS", "20000")

	if _, err := Load(""); err == nil {
		t.Fatal("expected error when probe timeout exceeds read timeout")
	}
}
