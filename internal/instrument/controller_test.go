package instrument

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"testing/iotest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/beamscan/internal/scan"
)

func startController(t *testing.T, sim *Simulator) *Controller[*Simulator] {
	t.Helper()
	c := NewController(sim)
	c.Timeout = 2 * time.Second

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Monitor(ctx) }()
	t.Cleanup(func() {
		cancel()
		c.Close()
		<-done
	})
	return c
}

func exactSimulator() *Simulator {
	sim := NewSimulator(1)
	sim.Noise = 0
	sim.SetPeak("theta", Peak{Center: 0, Width: 1, Amplitude: 100})
	return sim
}

func TestController_Move(t *testing.T) {
	sim := exactSimulator()
	c := startController(t, sim)

	require.NoError(t, c.Move(context.Background(), "theta", 0.6))
	assert.Equal(t, 0.6, sim.Position("theta"))

	require.NoError(t, c.Axis("phi")(context.Background(), -3))
	assert.Equal(t, -3.0, sim.Position("phi"))
}

func TestController_MoveRefused(t *testing.T) {
	sim := exactSimulator()
	sim.SetLimits("theta", Limits{Min: -1, Max: 1})
	c := startController(t, sim)

	err := c.Move(context.Background(), "theta", 5)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMotion)
	assert.NotErrorIs(t, err, ErrAcquisition)

	var me *MotionError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, "theta", me.Axis)
	assert.Equal(t, 5.0, me.Value)

	var de *DeviceError
	require.ErrorAs(t, err, &de)
	assert.Contains(t, de.Message, "limit exceeded")
	assert.Equal(t, 0.0, sim.Position("theta"))
}

func TestController_Count(t *testing.T) {
	sim := exactSimulator()
	c := startController(t, sim)

	got, err := c.Count(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, 330.0, got)

	sim.Fail("detector", "shutter closed")
	_, err = c.Detector(1).Sample(context.Background())
	assert.ErrorIs(t, err, ErrAcquisition)
	assert.Contains(t, err.Error(), "shutter closed")

	sim.Fail("detector", "")
	_, err = c.Count(context.Background(), 1)
	assert.NoError(t, err)
}

func TestController_Timeout(t *testing.T) {
	// Without Monitor running no reply can arrive.
	c := NewController(NewSimulator(1))
	c.Timeout = 20 * time.Millisecond
	defer c.Close()

	err := c.Move(context.Background(), "theta", 1)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.ErrorIs(t, err, ErrMotion)
}

func TestController_ContextCancelled(t *testing.T) {
	c := NewController(NewSimulator(1))
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Count(ctx, 1)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, ErrAcquisition)
}

type brokenPort struct{ io.Reader }

func (brokenPort) Write([]byte) (int, error) { return 0, errors.New("cable unplugged") }
func (brokenPort) Close() error              { return nil }

func TestController_WriteError(t *testing.T) {
	c := NewController(brokenPort{Reader: strings.NewReader("")})
	err := c.Move(context.Background(), "theta", 1)
	assert.ErrorIs(t, err, ErrMotion)
	assert.Contains(t, err.Error(), "cable unplugged")
}

func TestController_DrivesScan(t *testing.T) {
	sim := exactSimulator()
	c := startController(t, sim)

	node := scan.NewSimple("theta", []float64{-1, -0.5, 0, 0.5, 1}, c.Axis("theta"))
	samples, err := scan.Plot(context.Background(), node, c.Detector(1))
	require.NoError(t, err)
	require.Len(t, samples, 5)

	best := 0
	for i, s := range samples {
		if s.Value > samples[best].Value {
			best = i
		}
	}
	assert.Equal(t, 0.0, samples[best].Position["theta"])
	assert.Equal(t, 110.0, samples[best].Value)
	assert.Equal(t, 1.0, sim.Position("theta"))
}

func TestController_MotionErrorStopsScan(t *testing.T) {
	sim := exactSimulator()
	sim.SetLimits("theta", Limits{Min: -1, Max: 0})
	c := startController(t, sim)

	node := scan.NewSimple("theta", []float64{-1, 0, 1, 2}, c.Axis("theta"))
	samples, err := scan.Plot(context.Background(), node, c.Detector(1))
	assert.ErrorIs(t, err, ErrMotion)
	assert.Len(t, samples, 2)
	assert.Equal(t, 0.0, sim.Position("theta"))
}

func TestController_Record(t *testing.T) {
	sim := exactSimulator()
	c := startController(t, sim)

	node := scan.NewSimple("theta", []float64{0.25, 0.5}, c.Axis("theta"))
	err := scan.MeasureAll(context.Background(), node, c.Detector(1), c, "run theta={theta:.2f}\nx")
	require.NoError(t, err)
	assert.Equal(t, []string{"run theta=0.25 x", "run theta=0.50 x"}, sim.Titles())
}

func localHostRequest(method, path string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, path, body)
	req.RemoteAddr = "127.0.0.1:12345"
	return req
}

func TestAttachAdminRoutes(t *testing.T) {
	sim := exactSimulator()
	c := NewController(sim)
	defer c.Close()

	mux := http.NewServeMux()
	c.AttachAdminRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, localHostRequest(http.MethodGet, "/debug/send-command", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Controller console")

	form := url.Values{"command": {"TITLE from console"}}
	req := localHostRequest(http.MethodPost, "/debug/send-command-api", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"from console"}, sim.Titles())

	req = localHostRequest(http.MethodPost, "/debug/send-command-api", strings.NewReader(""))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, localHostRequest(http.MethodGet, "/debug/send-command-api", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestController_SubscribeFanOut(t *testing.T) {
	c := NewController(exactSimulator())
	defer c.Close()

	a, aLines := c.Subscribe()
	b, bLines := c.Subscribe()
	require.NotEqual(t, a, b)

	for i := 0; i < tapBuffer+4; i++ {
		c.broadcast("POS theta 0")
	}
	assert.Len(t, aLines, tapBuffer, "a slow subscriber drops lines instead of blocking")
	assert.Len(t, bLines, tapBuffer)

	c.Unsubscribe(a)
	c.Unsubscribe(a)
	n := 0
	for range aLines {
		n++
	}
	assert.Equal(t, tapBuffer, n, "buffered lines drain before the channel ends")

	c.broadcast("POS theta 1")
	assert.Len(t, bLines, tapBuffer)
}

func TestController_CloseEndsEverything(t *testing.T) {
	sim := exactSimulator()
	c := NewController(sim)
	monitorDone := make(chan error, 1)
	go func() { monitorDone <- c.Monitor(context.Background()) }()

	_, lines := c.Subscribe()
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.True(t, c.Closed())

	_, ok := <-lines
	assert.False(t, ok, "open subscriptions are closed")

	select {
	case err := <-monitorDone:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Monitor did not return after Close")
	}

	id, late := c.Subscribe()
	assert.Equal(t, -1, id)
	_, ok = <-late
	assert.False(t, ok, "subscribing after Close yields a closed channel")

	assert.ErrorIs(t, c.SendCommand("COUNT 1"), ErrClosed)
	err := c.Move(context.Background(), "theta", 0.5)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, err, ErrMotion)
	assert.Equal(t, 0.0, sim.Position("theta"))
}

func TestController_MonitorReportsReadError(t *testing.T) {
	c := NewController(brokenPort{Reader: iotest.ErrReader(errors.New("line noise"))})
	err := c.Monitor(context.Background())
	assert.EqualError(t, err, "line noise")
}

func TestAdminRoutes_SendCommandAfterClose(t *testing.T) {
	c := NewController(exactSimulator())
	mux := http.NewServeMux()
	c.AttachAdminRoutes(mux)
	require.NoError(t, c.Close())

	form := url.Values{"command": {"COUNT 1"}}
	req := localHostRequest(http.MethodPost, "/debug/send-command-api", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, ErrClosed.Error(), body["error"])
}

func TestAdminRoutes_Tail(t *testing.T) {
	sim := exactSimulator()
	c := startController(t, sim)
	mux := http.NewServeMux()
	c.AttachAdminRoutes(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/debug/tail", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	rd := bufio.NewReader(resp.Body)
	first, err := rd.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, ": connected\n", first)

	require.NoError(t, c.Move(ctx, "theta", 0.5))
	var events []string
	for len(events) == 0 {
		line, err := rd.ReadString('\n')
		require.NoError(t, err)
		if data, ok := strings.CutPrefix(strings.TrimSpace(line), "data: "); ok {
			events = append(events, data)
		}
	}
	assert.Equal(t, []string{"POS theta 0.5"}, events)

	require.NoError(t, c.Close())
	_, err = io.ReadAll(rd)
	assert.NoError(t, err, "the stream ends cleanly when the controller closes")
}

func TestSimulator_PartialWrites(t *testing.T) {
	sim := exactSimulator()
	_, err := sim.Write([]byte("MOVE the"))
	require.NoError(t, err)
	assert.Equal(t, 0.0, sim.Position("theta"))

	_, err = sim.Write([]byte("ta 0.5\n"))
	require.NoError(t, err)
	assert.Equal(t, 0.5, sim.Position("theta"))

	buf := make([]byte, 64)
	n, err := sim.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "POS theta 0.5\n", string(buf[:n]))

	require.NoError(t, sim.Close())
	_, err = sim.Read(buf)
	assert.Error(t, err)
	_, err = sim.Write([]byte("COUNT 1\n"))
	assert.Error(t, err)
}
