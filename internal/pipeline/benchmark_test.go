package pipeline

import (
	"context"
	"testing"

	"github.com/MeKo-Tech/negafix/internal/correct"
	"github.com/MeKo-Tech/negafix/internal/pixbuf"
	"github.com/MeKo-Tech/negafix/internal/synth"
)

func benchNegative(b *testing.B, w, h int) pixbuf.Buffer {
	b.Helper()
	p := synth.DefaultParams(1337)
	p.Width, p.Height = w, h
	buf, err := synth.Negative(p)
	if err != nil {
		b.Fatalf("failed to generate negative: %v", err)
	}
	return buf
}

// BenchmarkFullPipeline measures a complete correction of a 6 MP scan.
func BenchmarkFullPipeline(b *testing.B) {
	buf := benchNegative(b, 3000, 2000)
	p, err := New(correct.DefaultConfig(), nil, Options{})
	if err != nil {
		b.Fatalf("failed to create pipeline: %v", err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := p.Run(context.Background(), "bench", buf); err != nil {
			b.Fatalf("run failed: %v", err)
		}
	}
}

func BenchmarkStages(b *testing.B) {
	buf := benchNegative(b, 1024, 768)
	inverted := correct.Invert(buf)
	balanced, _, err := correct.Balance(inverted, correct.DefaultBorderFraction)
	if err != nil {
		b.Fatalf("balance failed: %v", err)
	}
	exposed, _, err := correct.NormalizeExposure(balanced, correct.DefaultTargetBrightness)
	if err != nil {
		b.Fatalf("exposure failed: %v", err)
	}

	b.Run("Invert", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			correct.Invert(buf)
		}
	})
	b.Run("Balance", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			_, _, _ = correct.Balance(inverted, correct.DefaultBorderFraction)
		}
	})
	b.Run("Exposure", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			_, _, _ = correct.NormalizeExposure(balanced, correct.DefaultTargetBrightness)
		}
	})
	b.Run("Enhance", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			_, _ = correct.Enhance(exposed, correct.DefaultEnhancementFactors())
		}
	})
}
