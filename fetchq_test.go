package fetchq_test

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/adamwoolhether/fetchq"
	"github.com/adamwoolhether/fetchq/asset"
	"github.com/adamwoolhether/fetchq/classifier"
	"github.com/adamwoolhether/fetchq/request"
	"github.com/adamwoolhether/fetchq/runner"
	"github.com/adamwoolhether/fetchq/scheduler"
)

type user struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

func newEngine(t *testing.T, opts ...fetchq.Option) *fetchq.Engine {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	e, err := fetchq.New(append([]fetchq.Option{fetchq.WithLogger(log)}, opts...)...)
	if err != nil {
		t.Fatalf("building engine: %v", err)
	}
	e.Start()

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.Shutdown(ctx); err != nil {
			t.Errorf("shutdown: %v", err)
		}
	})

	return e
}

func waitHandle(t *testing.T, h *scheduler.Handle) runner.Result {
	t.Helper()

	select {
	case <-h.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for handle")
	}
	return h.Result()
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()

	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestEngine_Submit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"name":"gopher","email":"gopher@example.com"}`))
	}))
	defer srv.Close()

	var observed atomic.Int32
	e := newEngine(t, fetchq.WithObserver(func(d *request.Descriptor, m request.CallMetrics) {
		observed.Add(1)
	}))

	var got user
	d, err := request.Get(srv.URL, request.WithDestination(&got))
	if err != nil {
		t.Fatal(err)
	}

	var onDelivery atomic.Bool
	h, err := e.Submit(d, scheduler.ListenerFuncs{
		Success: func(res runner.Result) {
			onDelivery.Store(true)
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	res := waitHandle(t, h)
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if !onDelivery.Load() {
		t.Error("exp listener invoked before handle resolved")
	}

	exp := user{Name: "gopher", Email: "gopher@example.com"}
	if diff := cmp.Diff(exp, got); diff != "" {
		t.Errorf("decoded mismatch (-want +got):\n%s", diff)
	}
	if observed.Load() != 1 {
		t.Errorf("exp one observed call, got %d", observed.Load())
	}
}

func TestEngine_Execute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/missing":
			http.Error(w, "no such thing", http.StatusNotFound)
		default:
			_, _ = w.Write([]byte("hello"))
		}
	}))
	defer srv.Close()

	e := newEngine(t)

	testCases := map[string]struct {
		path     string
		expValue any
		expErr   error
		expCode  int
	}{
		"ok":       {path: "/", expValue: "hello", expCode: http.StatusOK},
		"notFound": {path: "/missing", expErr: request.ErrServer, expCode: http.StatusNotFound},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			d, err := request.Get(srv.URL+tc.path, request.WithShape(request.ShapeString))
			if err != nil {
				t.Fatal(err)
			}

			res := e.Execute(t.Context(), d)
			if !errors.Is(res.Err, tc.expErr) {
				t.Fatalf("exp error %v, got %v", tc.expErr, res.Err)
			}
			if res.Metrics.StatusCode != tc.expCode {
				t.Errorf("exp status %d, got %d", tc.expCode, res.Metrics.StatusCode)
			}
			if tc.expErr != nil {
				rerr, ok := request.AsError(res.Err)
				if !ok || !strings.Contains(string(rerr.Body), "no such thing") {
					t.Errorf("exp error body, got %v", res.Err)
				}
				return
			}
			if res.Value != tc.expValue {
				t.Errorf("exp value %v, got %v", tc.expValue, res.Value)
			}
		})
	}
}

func TestEngine_Download(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("file contents"))
	}))
	defer srv.Close()

	e := newEngine(t)

	dir := t.TempDir()
	d, err := request.NewDownload(srv.URL, dir, "out.txt")
	if err != nil {
		t.Fatal(err)
	}

	h, err := e.Submit(d, nil)
	if err != nil {
		t.Fatal(err)
	}

	res := waitHandle(t, h)
	if res.Err != nil {
		t.Fatalf("download failed: %v", res.Err)
	}

	dest := filepath.Join(dir, "out.txt")
	if res.Value != dest {
		t.Errorf("exp destination %q, got %v", dest, res.Value)
	}
	b, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "file contents" {
		t.Errorf("exp file contents, got %q", b)
	}
}

func TestEngine_PriorityOrdering(t *testing.T) {
	release := make(chan struct{})

	var mu sync.Mutex
	var order []string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/block" {
			<-release
			return
		}
		mu.Lock()
		order = append(order, r.URL.Path)
		mu.Unlock()
	}))
	defer srv.Close()
	defer close(release)

	e := newEngine(t, fetchq.WithWorkers(1))

	submit := func(path string, p request.Priority) *scheduler.Handle {
		d, err := request.Get(srv.URL+path, request.WithPriority(p), request.WithShape(request.ShapeDiscard))
		if err != nil {
			t.Fatal(err)
		}
		h, err := e.Submit(d, nil)
		if err != nil {
			t.Fatal(err)
		}
		return h
	}

	blocker := submit("/block", request.Immediate)
	for e.Pending() != 0 {
		time.Sleep(time.Millisecond)
	}

	handles := []*scheduler.Handle{
		submit("/low", request.Low),
		submit("/medium", request.Medium),
		submit("/high-1", request.High),
		submit("/high-2", request.High),
	}

	release <- struct{}{}
	waitHandle(t, blocker)
	for _, h := range handles {
		waitHandle(t, h)
	}

	mu.Lock()
	defer mu.Unlock()
	exp := []string{"/high-1", "/high-2", "/medium", "/low"}
	if diff := cmp.Diff(exp, order); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestEngine_ForceCancel(t *testing.T) {
	started := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-r.Context().Done()
	}))
	defer srv.Close()

	e := newEngine(t)

	const tag = "screen-1"
	d, err := request.Get(srv.URL, request.WithTag(tag))
	if err != nil {
		t.Fatal(err)
	}

	var errs atomic.Int32
	h, err := e.Submit(d, scheduler.ListenerFuncs{
		Success: func(runner.Result) { t.Error("unexpected success") },
		Error: func(err error) {
			errs.Add(1)
			if !errors.Is(err, request.ErrCancelled) {
				t.Errorf("exp cancelled error, got %v", err)
			}
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	<-started
	if !e.IsRunning(tag) {
		t.Error("exp tag to be running")
	}

	e.ForceCancel(tag)
	waitHandle(t, h)

	if e.IsRunning(tag) {
		t.Error("exp tag to be idle after cancel")
	}

	// Let any late delivery surface before counting.
	if err := e.Run(t.Context(), func(context.Context) {}); err != nil {
		t.Fatal(err)
	}
	if errs.Load() != 1 {
		t.Errorf("exp exactly one cancelled delivery, got %d", errs.Load())
	}
}

func TestEngine_FetchAsset(t *testing.T) {
	img := pngBytes(t, 64, 32)

	var hits atomic.Int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-release
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(img)
	}))
	defer srv.Close()

	reg := prometheus.NewRegistry()
	e := newEngine(t, fetchq.WithRegisterer(reg), fetchq.WithBatchDelay(10*time.Millisecond))

	done := make(chan *asset.Container, 2)
	listener := asset.ListenerFuncs{
		Response: func(c *asset.Container, immediate bool) {
			if !immediate {
				done <- c
			}
		},
		Error: func(c *asset.Container, err error) { t.Errorf("unexpected error: %v", err) },
	}

	err := e.Run(t.Context(), func(ctx context.Context) {
		e.FetchAsset(ctx, srv.URL, 16, 16, request.ScaleFit, listener)
		e.FetchAsset(ctx, srv.URL, 16, 16, request.ScaleFit, listener)
	})
	if err != nil {
		t.Fatal(err)
	}
	close(release)

	for range 2 {
		select {
		case c := <-done:
			if b := c.Image.Bounds(); b.Dx() != 16 || b.Dy() != 8 {
				t.Errorf("exp 16x8 scaled image, got %v", b)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for assets")
		}
	}

	if hits.Load() != 1 {
		t.Errorf("exp one network fetch, got %d", hits.Load())
	}

	err = e.Run(t.Context(), func(ctx context.Context) {
		if !e.IsAssetCached(ctx, srv.URL, 16, 16, request.ScaleFit) {
			t.Error("exp asset cached")
		}
		e.EvictAsset(ctx, srv.URL, 16, 16, request.ScaleFit)
		if e.IsAssetCached(ctx, srv.URL, 16, 16, request.ScaleFit) {
			t.Error("exp asset evicted")
		}
	})
	if err != nil {
		t.Fatal(err)
	}

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	var coalesced float64
	for _, mf := range mfs {
		if mf.GetName() == "fetchq_asset_coalesced_total" {
			coalesced = mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	if coalesced != 1 {
		t.Errorf("exp one coalesced fetch, got %v", coalesced)
	}
}

func TestEngine_QualityListener(t *testing.T) {
	body := bytes.Repeat([]byte("x"), 200_000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(20 * time.Millisecond)
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	e := newEngine(t)

	changes := make(chan classifier.Quality, 4)
	e.SetQualityListener(func(q classifier.Quality, bps float64) { changes <- q })

	d, err := request.Get(srv.URL, request.WithShape(request.ShapeDiscard))
	if err != nil {
		t.Fatal(err)
	}
	if res := e.Execute(t.Context(), d); res.Err != nil {
		t.Fatal(res.Err)
	}

	select {
	case q := <-changes:
		if q == classifier.Unknown || q != e.Quality() {
			t.Errorf("exp a known quality matching Quality(), got %v (current %v)", q, e.Quality())
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for quality change")
	}

	if e.Bandwidth() <= 0 {
		t.Errorf("exp positive bandwidth, got %v", e.Bandwidth())
	}

	e.ResetClassifier()
	if e.Quality() != classifier.Unknown || e.Bandwidth() != 0 {
		t.Errorf("exp reset classifier, got %v at %v bps", e.Quality(), e.Bandwidth())
	}
}

func TestEngine_Shutdown(t *testing.T) {
	e, err := fetchq.New(fetchq.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	if err != nil {
		t.Fatal(err)
	}
	e.Start()

	if err := e.Shutdown(t.Context()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	d, err := request.Get("https://example.com")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.Submit(d, nil); !errors.Is(err, scheduler.ErrClosed) {
		t.Errorf("exp ErrClosed, got %v", err)
	}
	if e.Post(func(context.Context) {}) {
		t.Error("exp Post to fail after shutdown")
	}
}

func TestNew_Validation(t *testing.T) {
	testCases := map[string]fetchq.Option{
		"zeroWorkers":     fetchq.WithWorkers(0),
		"nilLogger":       fetchq.WithLogger(nil),
		"nilTracer":       fetchq.WithTracer(nil),
		"nilDecoder":      fetchq.WithDecoder(nil),
		"nilRegisterer":   fetchq.WithRegisterer(nil),
		"nilTransport":    fetchq.WithTransport(nil),
		"zeroThrottle":    fetchq.WithThrottle(0, 0),
		"badSmoothing":    fetchq.WithClassifier(classifier.WithSmoothing(2)),
		"zeroBudget":      fetchq.WithCacheBudget(0),
		"negativeDelay":   fetchq.WithBatchDelay(-time.Second),
		"negativeTimeout": fetchq.WithTimeout(-time.Second),
	}

	for name, opt := range testCases {
		t.Run(name, func(t *testing.T) {
			if _, err := fetchq.New(opt); err == nil {
				t.Error("expected error")
			}
		})
	}
}
