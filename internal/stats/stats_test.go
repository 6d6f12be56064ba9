package stats_test

import (
	"context"
	"testing"
	"time"

	"github.com/synthbox/capture-proxy/internal/events"
	"github.com/synthbox/capture-proxy/internal/stats"
)

func TestTicker_EmitsAndResetsCounters(t *testing.T) {
	counters := stats.NewCounters("test-instance")
	counters.CreditUpload(10)
	counters.CreditDownload(20)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan events.Event, 1)
	go stats.Ticker(ctx, counters, func(ev events.Event) {
		select {
		case received <- ev:
		default:
		}
	})

	select {
	case ev := <-received:
		if ev.Traffic.UploadBytes != 10 || ev.Traffic.DownloadBytes != 20 {
			t.Fatalf("unexpected traffic payload: %+v", ev.Traffic)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for traffic event")
	}
}

func TestGlobal_AccumulatesAcrossInstances(t *testing.T) {
	g := stats.NewGlobal()
	g.Observe(events.TrafficUpdate("a", 10, 0, 20, 0))
	g.Observe(events.TrafficUpdate("b", 5, 0, 0, 15))

	up, upSaved, down, downSaved := g.Totals()
	if up != 15 || upSaved != 0 || down != 20 || downSaved != 15 {
		t.Fatalf("unexpected totals: up=%d upSaved=%d down=%d downSaved=%d", up, upSaved, down, downSaved)
	}
}

func TestFormatBytes(t *testing.T) {
	cases := map[uint64]string{
		0:          "0B",
		512:        "512B",
		1536:       "1.50KB",
		1048576:    "1.00MB",
	}
	for input, want := range cases {
		if got := stats.FormatBytes(input); got != want {
			t.Fatalf("FormatBytes(%d) = %q, want %q", input, got, want)
		}
	}
}
