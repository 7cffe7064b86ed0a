package influxdb

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/nerrad567/gray-logic-zones/internal/infrastructure/config"
)

// ─── Mock Dependencies ─────────────────────────────────────────────

type fakeWriteAPI struct {
	mu      sync.Mutex
	points  []*write.Point
	flushes int
	errs    chan error
}

func newFakeWriteAPI() *fakeWriteAPI {
	return &fakeWriteAPI{errs: make(chan error, 1)}
}

func (f *fakeWriteAPI) WriteRecord(string) {}
func (f *fakeWriteAPI) WritePoint(p *write.Point) {
	f.mu.Lock()
	f.points = append(f.points, p)
	f.mu.Unlock()
}
func (f *fakeWriteAPI) Flush() {
	f.mu.Lock()
	f.flushes++
	f.mu.Unlock()
}
func (f *fakeWriteAPI) Errors() <-chan error                      { return f.errs }
func (f *fakeWriteAPI) SetWriteFailedCallback(api.WriteFailedCallback) {}

func (f *fakeWriteAPI) lines() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.points))
	for _, p := range f.points {
		out = append(out, write.PointToLineProtocol(p, time.Second))
	}
	return out
}

var fixedTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testClient(w *fakeWriteAPI) *Client {
	c := newClient(nil, w)
	c.now = func() time.Time { return fixedTime }
	return c
}

func TestWriteZoneTransition(t *testing.T) {
	w := newFakeWriteAPI()
	c := testClient(w)

	c.WriteZoneTransition("hallway", "movement", "off", "auto_on")

	lines := w.lines()
	if len(lines) != 1 {
		t.Fatalf("wrote %d points, want 1", len(lines))
	}
	line := lines[0]
	for _, want := range []string{
		"zone_transition,",
		"controller=hallway",
		"event=movement",
		`from="off"`,
		`to="auto_on"`,
		"1772366400",
	} {
		if !strings.Contains(line, want) {
			t.Errorf("line %q missing %q", line, want)
		}
	}
}

func TestWriteEnforcement(t *testing.T) {
	w := newFakeWriteAPI()
	c := testClient(w)

	c.WriteEnforcement("light.hall", 2, false, 6*time.Second)

	line := w.lines()[0]
	for _, want := range []string{
		"enforcement,entity_id=light.hall",
		"retry=2i",
		"converged=false",
		"delay_seconds=6",
	} {
		if !strings.Contains(line, want) {
			t.Errorf("line %q missing %q", line, want)
		}
	}
}

func TestWrite_DroppedAfterClose(t *testing.T) {
	w := newFakeWriteAPI()
	c := testClient(w)
	c.closed.Store(true)
	before := testutil.ToFloat64(pointsDropped.WithLabelValues(MeasurementZoneTransition))

	c.WriteZoneTransition("hallway", "toggle", "off", "manual_on")
	c.WritePointWithTime("custom", nil, map[string]any{"v": 1}, fixedTime)

	if got := len(w.lines()); got != 0 {
		t.Errorf("wrote %d points after close", got)
	}
	if got := testutil.ToFloat64(pointsDropped.WithLabelValues(MeasurementZoneTransition)) - before; got != 1 {
		t.Errorf("dropped delta = %v, want 1", got)
	}
}

func TestWrite_CountsQueuedPoints(t *testing.T) {
	c := testClient(newFakeWriteAPI())
	before := testutil.ToFloat64(pointsQueued.WithLabelValues(MeasurementEnforcement))

	c.WriteEnforcement("light.hall", 0, true, 0)
	c.WriteEnforcement("light.hall", 1, false, 3*time.Second)

	if got := testutil.ToFloat64(pointsQueued.WithLabelValues(MeasurementEnforcement)) - before; got != 2 {
		t.Errorf("queued delta = %v, want 2", got)
	}
}

func TestFlush(t *testing.T) {
	w := newFakeWriteAPI()
	c := testClient(w)

	c.Flush()
	c.closed.Store(true)
	c.Flush()

	if w.flushes != 1 {
		t.Errorf("flushes = %d, want 1 (no flush after close)", w.flushes)
	}

	var empty Client
	empty.Flush()
}

func TestDrainErrors(t *testing.T) {
	w := newFakeWriteAPI()
	c := testClient(w)
	before := testutil.ToFloat64(writeErrors)

	got := make(chan error, 1)
	c.SetOnError(func(err error) { got <- err })

	done := make(chan struct{})
	go func() {
		c.drainErrors(w.errs)
		close(done)
	}()
	w.errs <- errors.New("bucket not found")

	select {
	case err := <-got:
		if err.Error() != "bucket not found" {
			t.Errorf("callback error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("error callback not invoked")
	}
	close(w.errs)
	<-done

	if delta := testutil.ToFloat64(writeErrors) - before; delta != 1 {
		t.Errorf("write error delta = %v, want 1", delta)
	}
}

func TestWriteOptions(t *testing.T) {
	tests := []struct {
		name     string
		cfg      config.InfluxDBConfig
		opts     []Option
		batch    uint
		flushMS  uint
		wantTags map[string]string
	}{
		{
			name:     "defaults",
			cfg:      config.InfluxDBConfig{},
			batch:    defaultBatchSize,
			flushMS:  defaultFlushInterval * 1000,
			wantTags: map[string]string{},
		},
		{
			name:     "configured with site tag",
			cfg:      config.InfluxDBConfig{BatchSize: 200, FlushInterval: 30},
			opts:     []Option{WithDefaultTag("site", "home")},
			batch:    200,
			flushMS:  30_000,
			wantTags: map[string]string{"site": "home"},
		},
		{
			name:     "empty tag ignored",
			cfg:      config.InfluxDBConfig{BatchSize: -1},
			opts:     []Option{WithDefaultTag("site", "")},
			batch:    defaultBatchSize,
			flushMS:  defaultFlushInterval * 1000,
			wantTags: map[string]string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := writeOptions(tt.cfg, tt.opts...)
			if o.BatchSize() != tt.batch {
				t.Errorf("BatchSize = %d, want %d", o.BatchSize(), tt.batch)
			}
			if o.FlushInterval() != tt.flushMS {
				t.Errorf("FlushInterval = %d, want %d", o.FlushInterval(), tt.flushMS)
			}
			if o.Precision() != writePrecision {
				t.Errorf("Precision = %v, want %v", o.Precision(), writePrecision)
			}
			if o.MaxRetries() != maxRetries {
				t.Errorf("MaxRetries = %d, want %d", o.MaxRetries(), maxRetries)
			}
			tags := o.WriteOptions().DefaultTags()
			if len(tags) != len(tt.wantTags) {
				t.Errorf("DefaultTags = %v, want %v", tags, tt.wantTags)
			}
			for k, v := range tt.wantTags {
				if tags[k] != v {
					t.Errorf("DefaultTags[%s] = %q, want %q", k, tags[k], v)
				}
			}
		})
	}
}

func TestConnect_Disabled(t *testing.T) {
	_, err := Connect(config.InfluxDBConfig{Enabled: false})
	if !errors.Is(err, ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	_, err := Connect(config.InfluxDBConfig{
		Enabled: true,
		URL:     "http://127.0.0.1:1",
		Token:   "t",
		Org:     "o",
		Bucket:  "b",
	})
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestHealthCheck_Closed(t *testing.T) {
	c := &Client{}
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("HealthCheck() error = %v, want ErrClosed", err)
	}
}

func TestClose_Nil(t *testing.T) {
	var c Client
	if err := c.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
