package logging

import "testing"

func TestProgressSamplerDefaults(t *testing.T) {
	s := NewProgressSampler(0)
	if s.step != 10 {
		t.Fatalf("step = %v, want 10", s.step)
	}
	if !s.ShouldLog("", 0) || s.ShouldLog("", 9.9) || !s.ShouldLog("", 10) {
		t.Fatal("expected emits at 0 and 10 only")
	}
}

func TestProgressSamplerNil(t *testing.T) {
	var s *ProgressSampler
	if !s.ShouldLog("compress", 50) {
		t.Fatal("nil sampler should always log")
	}
	s.Reset()
}

func TestProgressSamplerBucketsAndStages(t *testing.T) {
	s := NewProgressSampler(25)
	steps := []struct {
		stage   string
		percent float64
		want    bool
	}{
		{"normalize", 0, true},
		{"normalize", 10, false},
		{"normalize", 26, true},
		{"normalize", 30, false},
		{"compress", 5, true},
		{"compress", -1, false},
		{"compress", 100, true},
		{"compress", 140, false},
	}
	for i, step := range steps {
		if got := s.ShouldLog(step.stage, step.percent); got != step.want {
			t.Fatalf("step %d (%s %.0f): got %v want %v", i, step.stage, step.percent, got, step.want)
		}
	}
	s.Reset()
	if !s.ShouldLog("compress", 100) {
		t.Fatal("expected emit after reset")
	}
}

func TestCleanupOldLogsHonoursRetention(t *testing.T) {
	if removed := CleanupOldLogs(nil, 0, t.TempDir(), "*.log"); removed != 0 {
		t.Fatalf("expected disabled retention to remove nothing, got %d", removed)
	}
}
