package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"testing"

	"github.com/johnayoung/go-eft-pipeline/internal/config"
	"github.com/johnayoung/go-eft-pipeline/internal/sample"
)

func benchProcessor(workers int) *Processor {
	cfg := config.DefaultProcessingConfig()
	cfg.AggregationWorkers = workers
	return New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// BenchmarkProcessThroughput reports records processed per second.
func BenchmarkProcessThroughput(b *testing.B) {
	if testing.Short() {
		b.Skip("skipping benchmark in short mode")
	}

	for _, size := range []int{1000, 10000, 50000} {
		b.Run(fmt.Sprintf("records_%d", size), func(b *testing.B) {
			batch := sample.Generate(sample.DefaultOptions(size))
			p := benchProcessor(4)
			ctx := context.Background()

			b.ResetTimer()
			b.ReportAllocs()

			for i := 0; i < b.N; i++ {
				if _, err := p.Process(ctx, batch); err != nil {
					b.Fatalf("Process failed: %v", err)
				}
			}

			total := float64(b.N) * float64(batch.Len())
			b.ReportMetric(total/b.Elapsed().Seconds(), "records/sec")
		})
	}
}

// BenchmarkAggregationWorkers compares worker counts on the same batch.
func BenchmarkAggregationWorkers(b *testing.B) {
	if testing.Short() {
		b.Skip("skipping benchmark in short mode")
	}

	batch := sample.Generate(sample.DefaultOptions(20000))
	for _, workers := range []int{1, 2, 4, 8} {
		b.Run(fmt.Sprintf("workers_%d", workers), func(b *testing.B) {
			p := benchProcessor(workers)
			ctx := context.Background()

			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := p.Process(ctx, batch); err != nil {
					b.Fatalf("Process failed: %v", err)
				}
			}
		})
	}
}

// BenchmarkMemoryUsage reports heap growth per processed record.
func BenchmarkMemoryUsage(b *testing.B) {
	if testing.Short() {
		b.Skip("skipping benchmark in short mode")
	}

	batch := sample.Generate(sample.DefaultOptions(10000))
	p := benchProcessor(4)
	ctx := context.Background()

	runtime.GC()
	var before runtime.MemStats
	runtime.ReadMemStats(&before)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := p.Process(ctx, batch); err != nil {
			b.Fatalf("Process failed: %v", err)
		}
	}
	b.StopTimer()

	var after runtime.MemStats
	runtime.ReadMemStats(&after)
	allocated := float64(after.TotalAlloc - before.TotalAlloc)
	b.ReportMetric(allocated/float64(b.N)/float64(batch.Len()), "bytes/record")
}
