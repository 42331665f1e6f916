package respeak_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/lectern/internal/respeak"
	"github.com/MrWong99/lectern/pkg/audio"
	"github.com/MrWong99/lectern/pkg/provider/stt"
	sttmock "github.com/MrWong99/lectern/pkg/provider/stt/mock"
	"github.com/MrWong99/lectern/pkg/provider/tts"
	ttsmock "github.com/MrWong99/lectern/pkg/provider/tts/mock"
)

var clip = audio.Clip{PCM: make([]byte, 3200), SampleRate: 16000, Channels: 1}

func TestIdentity(t *testing.T) {
	t.Parallel()

	got, err := respeak.Identity{}.Respeak(context.Background(), "19 grudnia")
	if err != nil || got != "19 grudnia" {
		t.Fatalf("Respeak = %q, %v", got, err)
	}
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	synth := &ttsmock.Synthesizer{Clip: clip}
	trans := &sttmock.Transcriber{Result: stt.Transcript{Text: " Dziewiętnastego grudnia. "}}

	voice := tts.Voice{ID: "pl-1", Language: "pl"}
	rt, err := respeak.NewRoundTrip(synth, trans, respeak.WithVoice(voice))
	if err != nil {
		t.Fatalf("NewRoundTrip: %v", err)
	}

	got, err := rt.Respeak(context.Background(), "19 grudnia.")
	if err != nil {
		t.Fatalf("Respeak: %v", err)
	}
	if got != "Dziewiętnastego grudnia." {
		t.Errorf("Respeak = %q", got)
	}

	if synth.Calls[0].Text != "19 grudnia." || synth.Calls[0].Voice != voice {
		t.Errorf("synth call = %+v", synth.Calls[0])
	}
	call := trans.Calls[0]
	if call.Opts.Language != "pl" {
		t.Errorf("language = %q, want pl (from voice)", call.Opts.Language)
	}
	if call.Opts.Prompt != "" {
		t.Errorf("prompt = %q, want none", call.Opts.Prompt)
	}
	if len(call.Clip.PCM) != len(clip.PCM) {
		t.Errorf("transcriber got %d bytes, want %d", len(call.Clip.PCM), len(clip.PCM))
	}
}

func TestRoundTrip_Errors(t *testing.T) {
	t.Parallel()

	if _, err := respeak.NewRoundTrip(nil, &sttmock.Transcriber{}); err == nil {
		t.Error("expected error for nil synthesizer")
	}

	errDown := errors.New("down")
	tests := []struct {
		name  string
		synth *ttsmock.Synthesizer
		trans *sttmock.Transcriber
	}{
		{"tts fails", &ttsmock.Synthesizer{Err: errDown}, &sttmock.Transcriber{}},
		{"stt fails", &ttsmock.Synthesizer{Clip: clip}, &sttmock.Transcriber{Err: errDown}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt, _ := respeak.NewRoundTrip(tt.synth, tt.trans, respeak.WithLanguage("en"))
			if _, err := rt.Respeak(context.Background(), "x"); !errors.Is(err, errDown) {
				t.Errorf("err = %v, want wrapped errDown", err)
			}
		})
	}
}

// countingRespeaker prefixes text with "R:" and counts calls. When gate is non-nil
// every call blocks until it is closed.
type countingRespeaker struct {
	calls atomic.Int64
	gate  chan struct{}
	err   error
}

func (c *countingRespeaker) Respeak(_ context.Context, text string) (string, error) {
	c.calls.Add(1)
	if c.gate != nil {
		<-c.gate
	}
	if c.err != nil {
		return "", c.err
	}
	return "R:" + text, nil
}

func TestCached_Hits(t *testing.T) {
	t.Parallel()

	next := &countingRespeaker{}
	c := respeak.NewCached(next, 8)

	for range 3 {
		got, err := c.Respeak(context.Background(), "ala")
		if err != nil || got != "R:ala" {
			t.Fatalf("Respeak = %q, %v", got, err)
		}
	}
	if n := next.calls.Load(); n != 1 {
		t.Errorf("next called %d times, want 1", n)
	}
	st := c.Stats()
	if st.Hits != 2 || st.Misses != 1 || st.Size != 1 {
		t.Errorf("stats = %+v", st)
	}
}

func TestCached_EvictsLeastRecentlyUsed(t *testing.T) {
	t.Parallel()

	next := &countingRespeaker{}
	c := respeak.NewCached(next, 2)
	ctx := context.Background()

	_, _ = c.Respeak(ctx, "a")
	_, _ = c.Respeak(ctx, "b")
	_, _ = c.Respeak(ctx, "a") // a is now most recent
	_, _ = c.Respeak(ctx, "c") // evicts b

	if st := c.Stats(); st.Size != 2 {
		t.Fatalf("size = %d, want 2", st.Size)
	}
	before := next.calls.Load()
	_, _ = c.Respeak(ctx, "a")
	if next.calls.Load() != before {
		t.Error("a was evicted, want b evicted")
	}
	_, _ = c.Respeak(ctx, "b")
	if next.calls.Load() != before+1 {
		t.Error("b still cached, want it evicted")
	}
}

func TestCached_SharesConcurrentCalls(t *testing.T) {
	t.Parallel()

	next := &countingRespeaker{gate: make(chan struct{})}
	c := respeak.NewCached(next, 8)

	const n = 10
	var wg sync.WaitGroup
	results := make([]string, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], _ = c.Respeak(context.Background(), "same")
		}()
	}

	// Let every goroutine reach the shared call before releasing it.
	deadline := time.Now().Add(2 * time.Second)
	for next.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	close(next.gate)
	wg.Wait()

	for i, r := range results {
		if r != "R:same" {
			t.Errorf("results[%d] = %q", i, r)
		}
	}
	if got := next.calls.Load(); got != 1 {
		t.Errorf("next called %d times, want 1", got)
	}
}

func TestCached_ErrorsNotCached(t *testing.T) {
	t.Parallel()

	next := &countingRespeaker{err: errors.New("tts down")}
	c := respeak.NewCached(next, 8)

	for range 2 {
		if _, err := c.Respeak(context.Background(), "x"); err == nil {
			t.Fatal("expected error")
		}
	}
	if got := next.calls.Load(); got != 2 {
		t.Errorf("next called %d times, want 2", got)
	}
	if st := c.Stats(); st.Size != 0 {
		t.Errorf("size = %d, want 0", st.Size)
	}
}

func TestCached_CallerCancel(t *testing.T) {
	t.Parallel()

	next := &countingRespeaker{gate: make(chan struct{})}
	c := respeak.NewCached(next, 8)
	t.Cleanup(func() { close(next.gate) })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := c.Respeak(ctx, "slow"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want DeadlineExceeded", err)
	}
}

func ExampleCached() {
	c := respeak.NewCached(respeak.Identity{}, 16)
	out, _ := c.Respeak(context.Background(), "Ala ma kota.")
	fmt.Println(out)
	// Output: Ala ma kota.
}
