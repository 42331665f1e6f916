package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/MrWong99/lectern/internal/assess"
	"github.com/MrWong99/lectern/internal/batch"
	"github.com/MrWong99/lectern/internal/drill"
	"github.com/MrWong99/lectern/internal/health"
	"github.com/MrWong99/lectern/internal/observe"
	"github.com/MrWong99/lectern/internal/server"
	"github.com/MrWong99/lectern/pkg/audio"
	"github.com/MrWong99/lectern/pkg/provider/stt"
	sttmock "github.com/MrWong99/lectern/pkg/provider/stt/mock"
	"github.com/MrWong99/lectern/pkg/scoring"
)

func quietMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func newTestServer(t *testing.T, aopts []assess.Option, sopts ...server.Option) *httptest.Server {
	t.Helper()
	m := quietMetrics(t)
	a := assess.New(scoring.New(), append([]assess.Option{assess.WithMetrics(m)}, aopts...)...)
	sopts = append([]server.Option{
		server.WithMetrics(m),
		server.WithBatchRunner(batch.NewRunner(scoring.New(), batch.WithMetrics(m), batch.WithConcurrency(2))),
	}, sopts...)
	srv := httptest.NewServer(server.New(a, sopts...).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp, out
}

func TestScore(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, nil)

	tests := []struct {
		name        string
		body        string
		wantStatus  int
		wantGrade   string
		wantPath    string
		wantAdvance bool
	}{
		{"exact", `{"reference":"Ala ma kota","candidate":"Ala ma kota"}`, http.StatusOK, "correct", "direct", true},
		{"with respeak", `{"reference":"123","candidate":"1x3","respeak":"1x3"}`, http.StatusOK, "correct", "respeak", true},
		{"silent", `{"reference":"Ala ma kota","candidate":""}`, http.StatusOK, "incorrect", "direct", false},
		{"empty reference", `{"reference":"...","candidate":"x"}`, http.StatusBadRequest, "", "", false},
		{
			"candidate over the rune limit",
			`{"reference":"Ala ma kota","candidate":"` + strings.Repeat("a", scoring.DefaultMaxRunes+1) + `"}`,
			http.StatusBadRequest, "", "", false,
		},
		{"bad json", `{"reference":`, http.StatusBadRequest, "", "", false},
		{"unknown field", `{"reference":"a","candidate":"a","extra":true}`, http.StatusBadRequest, "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			resp, body := postJSON(t, srv.URL+"/v1/score", tt.body)
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %v)", resp.StatusCode, tt.wantStatus, body)
			}
			if tt.wantStatus != http.StatusOK {
				if body["error"] == "" {
					t.Error("error body missing")
				}
				return
			}
			if body["grade"] != tt.wantGrade || body["path"] != tt.wantPath {
				t.Errorf("grade = %v, path = %v; want %s, %s", body["grade"], body["path"], tt.wantGrade, tt.wantPath)
			}
			if body["advance"] != tt.wantAdvance {
				t.Errorf("advance = %v, want %v", body["advance"], tt.wantAdvance)
			}
		})
	}
}

func TestScore_ArcadeMode(t *testing.T) {
	t.Parallel()

	mode := drill.NewArcade(drill.DefaultThresholds(), []string{"Ala ma kota"})
	srv := newTestServer(t, []assess.Option{assess.WithMode(mode)})

	resp, body := postJSON(t, srv.URL+"/v1/score", `{"reference":"Ala ma kota","candidate":"zzz"}`)
	if resp.StatusCode != http.StatusOK || body["grade"] != "incorrect" || body["advance"] != true {
		t.Errorf("in-set attempt: status %d body %v, want incorrect but advancing", resp.StatusCode, body)
	}
	resp, body = postJSON(t, srv.URL+"/v1/score", `{"reference":"Kot ma Alę","candidate":"Kot ma Alę"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("out-of-set attempt: status %d body %v, want 400", resp.StatusCode, body)
	}
}

func TestStats(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, nil)
	for _, cand := range []string{"Ala ma kota", "Ala ma psa", "zzz"} {
		resp, _ := postJSON(t, srv.URL+"/v1/score", `{"reference":"Ala ma kota","candidate":"`+cand+`"}`)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("score %q: status %d", cand, resp.StatusCode)
		}
	}

	resp, err := http.Get(srv.URL + "/v1/stats")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var got struct {
		Mode       string           `json:"mode"`
		Thresholds drill.Thresholds `json:"thresholds"`
		Tally      drill.Tally      `json:"tally"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.Mode != "story" || got.Thresholds != drill.DefaultThresholds() {
		t.Errorf("mode = %q, thresholds = %+v", got.Mode, got.Thresholds)
	}
	if tl := got.Tally; tl.Attempts != 3 || tl.Correct != 1 || tl.Neutral != 1 || tl.Incorrect != 1 {
		t.Errorf("tally = %+v", tl)
	}
}

func TestScore_RequestIDEchoed(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, nil)
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/v1/score", strings.NewReader(`{"reference":"a","candidate":"a"}`))
	req.Header.Set(observe.RequestIDHeader, "req-42")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if got := resp.Header.Get(observe.RequestIDHeader); got != "req-42" {
		t.Errorf("%s = %q, want req-42", observe.RequestIDHeader, got)
	}
}

func TestExplain(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, nil)
	resp, body := postJSON(t, srv.URL+"/v1/explain", `{"reference":"Ala ma kota","candidate":"Ala ma psa"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	words, _ := body["words"].([]any)
	if len(words) != 3 {
		t.Fatalf("words = %v", body["words"])
	}
	last := words[2].(map[string]any)
	if last["text"] != "kota" || last["correct"] != false {
		t.Errorf("last word = %v", last)
	}
}

func wavUpload(t *testing.T, fields map[string]string, wav []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	if wav != nil {
		fw, err := mw.CreateFormFile("file", "reading.wav")
		if err != nil {
			t.Fatal(err)
		}
		_, _ = fw.Write(wav)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, mw.FormDataContentType()
}

func loudWAV() []byte {
	pcm := make([]byte, 3200)
	for i := 0; i < len(pcm); i += 2 {
		pcm[i+1] = 0x10
	}
	return audio.EncodeWAV(audio.Clip{PCM: pcm, SampleRate: 16000, Channels: 1})
}

func TestScoreAudio(t *testing.T) {
	t.Parallel()

	trans := &sttmock.Transcriber{Result: stt.Transcript{Text: "Ala ma psa"}}
	srv := newTestServer(t, []assess.Option{assess.WithTranscriber(trans)})

	body, ct := wavUpload(t, map[string]string{"reference": "Ala ma kota", "language": "pl"}, loudWAV())
	resp, err := http.Post(srv.URL+"/v1/score/audio", ct, body)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var got assess.Assessment
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.Transcript != "Ala ma psa" || got.Grade != "neutral" {
		t.Errorf("got %+v", got)
	}
	if trans.Calls[0].Opts.Language != "pl" {
		t.Errorf("language = %q", trans.Calls[0].Opts.Language)
	}
}

func TestScoreAudio_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		trans      stt.Transcriber
		wav        []byte
		wantStatus int
	}{
		{"no transcriber", nil, loudWAV(), http.StatusServiceUnavailable},
		{"missing file", &sttmock.Transcriber{}, nil, http.StatusBadRequest},
		{"not a wav", &sttmock.Transcriber{}, []byte("hello"), http.StatusBadRequest},
		{"stt down", &sttmock.Transcriber{Err: errors.New("down")}, loudWAV(), http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var aopts []assess.Option
			if tt.trans != nil {
				aopts = append(aopts, assess.WithTranscriber(tt.trans))
			}
			srv := newTestServer(t, aopts)
			body, ct := wavUpload(t, map[string]string{"reference": "Ala"}, tt.wav)
			resp, err := http.Post(srv.URL+"/v1/score/audio", ct, body)
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
		})
	}
}

func TestScoreAudio_TooLarge(t *testing.T) {
	t.Parallel()

	trans := &sttmock.Transcriber{}
	srv := newTestServer(t, []assess.Option{assess.WithTranscriber(trans)}, server.WithMaxUploadBytes(512))

	body, ct := wavUpload(t, map[string]string{"reference": "Ala"}, loudWAV())
	resp, err := http.Post(srv.URL+"/v1/score/audio", ct, body)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode < 400 || resp.StatusCode >= 500 {
		t.Errorf("status = %d, want a 4xx", resp.StatusCode)
	}
	if trans.CallCount() != 0 {
		t.Error("transcriber called for oversized upload")
	}
}

func TestBatch(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, nil)

	check := func(t *testing.T, resp *http.Response) {
		t.Helper()
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d", resp.StatusCode)
		}
		var got struct {
			Outcomes []batch.Outcome `json:"outcomes"`
			Summary  batch.Summary   `json:"summary"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
			t.Fatal(err)
		}
		if len(got.Outcomes) != 2 || got.Summary.Mode != "story" || got.Summary.Correct != 1 || got.Summary.Failed != 1 {
			t.Errorf("got %+v", got)
		}
	}

	t.Run("json", func(t *testing.T) {
		resp, err := http.Post(srv.URL+"/v1/batch", "application/json", strings.NewReader(
			`{"items":[{"id":"a","reference":"Ala","candidate":"Ala"},{"id":"b","reference":"...","candidate":"x"}]}`))
		if err != nil {
			t.Fatal(err)
		}
		check(t, resp)
	})
	t.Run("jsonl", func(t *testing.T) {
		resp, err := http.Post(srv.URL+"/v1/batch", "application/x-ndjson", strings.NewReader(
			"{\"id\":\"a\",\"reference\":\"Ala\",\"candidate\":\"Ala\"}\n{\"id\":\"b\",\"reference\":\"...\",\"candidate\":\"x\"}\n"))
		if err != nil {
			t.Fatal(err)
		}
		check(t, resp)
	})
	t.Run("empty", func(t *testing.T) {
		resp, _ := postJSON(t, srv.URL+"/v1/batch", `{"items":[]}`)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", resp.StatusCode)
		}
	})
}

func TestProbesAndMetrics(t *testing.T) {
	t.Parallel()

	failing := health.Checker{Name: "stt", Check: func(context.Context) error { return errors.New("circuit open") }}
	srv := newTestServer(t, nil,
		server.WithReadiness(failing),
		server.WithMetricsHandler(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("lectern_score_requests_total 1\n"))
		})),
		server.WithMCPHandler(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		})),
	)

	tests := []struct {
		path string
		want int
	}{
		{"/healthz", http.StatusOK},
		{"/readyz", http.StatusServiceUnavailable},
		{"/metrics", http.StatusOK},
		{"/mcp", http.StatusTeapot},
	}
	for _, tt := range tests {
		resp, err := http.Get(srv.URL + tt.path)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != tt.want {
			t.Errorf("GET %s = %d, want %d", tt.path, resp.StatusCode, tt.want)
		}
	}
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	a := assess.New(scoring.New(), assess.WithMetrics(quietMetrics(t)))
	s := server.New(a, server.WithMetrics(quietMetrics(t)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln, "", "") }()

	url := "http://" + ln.Addr().String() + "/healthz"
	var resp *http.Response
	for range 50 {
		if resp, err = http.Get(url); err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("server never answered: %v", err)
	}
	resp.Body.Close()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve = %v, want nil after cancel", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}
}
