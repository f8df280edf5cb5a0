package ingest

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	clocktesting "k8s.io/utils/clock/testing"

	"rivulet/internal/broker"
	"rivulet/internal/decoder"
	"rivulet/internal/logger"
	"rivulet/pkg/models"
)

type fakeProducer struct {
	mu          sync.Mutex
	published   []string
	async       []string
	err         error
	delay       time.Duration
	gates       map[string]chan struct{}
	inFlight    int
	maxInFlight int
}

func (p *fakeProducer) Publish(_ context.Context, topic string, key, _ []byte) (broker.Location, error) {
	p.mu.Lock()
	p.inFlight++
	if p.inFlight > p.maxInFlight {
		p.maxInFlight = p.inFlight
	}
	gate := p.gates[string(key)]
	p.mu.Unlock()

	if gate != nil {
		<-gate
	}
	time.Sleep(p.delay)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.inFlight--
	if p.err != nil {
		return broker.Location{}, p.err
	}
	p.published = append(p.published, string(key))
	return broker.Location{Topic: topic, Offset: int64(len(p.published))}, nil
}

func (p *fakeProducer) PublishAsync(_ context.Context, _ string, key, _ []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.async = append(p.async, string(key))
}

func (p *fakeProducer) Close() error { return nil }

func (p *fakeProducer) Published() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.published...)
}

func (p *fakeProducer) Async() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.async...)
}

func (p *fakeProducer) MaxInFlight() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.maxInFlight
}

var testNow = time.Date(2024, 2, 2, 10, 0, 0, 0, time.UTC)

func newTestService(t *testing.T, p broker.Producer) *Service {
	t.Helper()
	ser, err := NewContainerSerializer()
	require.NoError(t, err)
	return NewService(p, ser, "events", 0, clocktesting.NewFakePassiveClock(testNow), logger.FromZap(zap.NewNop()))
}

func newTestRouter(svc *Service, defaultMaxInFlight int) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	NewHandler(svc, nil, defaultMaxInFlight, logger.FromZap(zap.NewNop())).RegisterRoutes(router)
	return router
}

func doRequest(router http.Handler, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func readResults(t *testing.T, body string) []Result {
	t.Helper()
	var results []Result
	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		var r Result
		require.NoError(t, json.Unmarshal(sc.Bytes(), &r))
		results = append(results, r)
	}
	return results
}

func TestParseAckMode(t *testing.T) {
	tests := []struct {
		in   string
		want AckMode
	}{
		{in: "", want: FireAndForget},
		{in: "fire-and-forget", want: FireAndForget},
		{in: "faf", want: FireAndForget},
		{in: "wait", want: WaitForAck},
		{in: " WAIT ", want: WaitForAck},
		{in: "wait-for-ack", want: WaitForAck},
		{in: "ack", want: WaitForAck},
		{in: "bogus", want: FireAndForget},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseAckMode(tt.in))
		})
	}
}

func TestParseMaxInFlight(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{in: "", want: 0},
		{in: "8", want: 8},
		{in: " 3 ", want: 3},
		{in: "0", want: 0},
		{in: "-1", wantErr: true},
		{in: "many", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMaxInFlight(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidMaxInFlight)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSubmit_FireAndForget(t *testing.T) {
	p := &fakeProducer{}
	router := newTestRouter(newTestService(t, p), 0)

	w := doRequest(router, "/events", `{"id":"evt-1","type":"click","payload":"x"}`, nil)

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.JSONEq(t, `{"id":"evt-1","status":"queued"}`, w.Body.String())
	assert.Equal(t, []string{"evt-1"}, p.Async())
}

func TestSubmit_WaitAcked(t *testing.T) {
	p := &fakeProducer{}
	router := newTestRouter(newTestService(t, p), 0)

	w := doRequest(router, "/events", `{"id":"evt-1","type":"click","payload":"x"}`, map[string]string{"x-ack-mode": "wait"})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"id":"evt-1","status":"acked"}`, w.Body.String())
	assert.Equal(t, []string{"evt-1"}, p.Published())
}

func TestSubmit_WaitFailedIsNot5xx(t *testing.T) {
	p := &fakeProducer{err: errors.New("broker unreachable")}
	router := newTestRouter(newTestService(t, p), 0)

	w := doRequest(router, "/events", `{"id":"evt-1","type":"click","payload":"x"}`, map[string]string{"x-ack-mode": "wait"})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"id":"evt-1","status":"failed"}`, w.Body.String())
}

func TestSubmit_BadRequests(t *testing.T) {
	router := newTestRouter(newTestService(t, &fakeProducer{}), 0)

	for name, body := range map[string]string{
		"malformed json": `{"id":`,
		"missing id":     `{"type":"click","payload":"x"}`,
	} {
		t.Run(name, func(t *testing.T) {
			w := doRequest(router, "/events", body, nil)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, w.Body.String(), "VALIDATION_ERROR")
		})
	}
}

func TestService_DefaultsTimestamp(t *testing.T) {
	svc := newTestService(t, &fakeProducer{})

	e := svc.NewEvent(EventRequest{ID: "evt-1"})
	assert.Equal(t, testNow.UnixMilli(), e.TimestampMs)

	var req EventRequest
	require.NoError(t, json.Unmarshal([]byte(`{"id":"evt-2","timestampMs":0}`), &req))
	assert.Equal(t, int64(0), svc.NewEvent(req).TimestampMs)
}

func TestStream_InvalidMaxInFlightRejected(t *testing.T) {
	p := &fakeProducer{}
	router := newTestRouter(newTestService(t, p), 0)

	for _, v := range []string{"-2", "lots"} {
		t.Run(v, func(t *testing.T) {
			w := doRequest(router, "/events/stream", `{"id":"a","type":"t","payload":"p"}`, map[string]string{
				"x-ack-mode":      "wait",
				"x-max-in-flight": v,
			})
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, w.Body.String(), "VALIDATION_ERROR")
		})
	}
	assert.Empty(t, p.Published())
}

func TestStream_FireAndForgetKeepsInputOrder(t *testing.T) {
	p := &fakeProducer{}
	router := newTestRouter(newTestService(t, p), 0)

	body := strings.Join([]string{
		`{"id":"a","type":"t","payload":"1"}`,
		``,
		`not json`,
		`{"id":"b","type":"t","payload":"2"}`,
		`{"type":"missing id"}`,
		`{"id":"c","type":"t","payload":"3"}`,
	}, "\n")

	w := doRequest(router, "/events/stream", body, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/x-ndjson", w.Header().Get("Content-Type"))

	results := readResults(t, w.Body.String())
	require.Len(t, results, 5)
	assert.Equal(t, Result{ID: "a", Status: "queued"}, results[0])
	assert.Equal(t, "error", results[1].Status)
	assert.Equal(t, Result{ID: "b", Status: "queued"}, results[2])
	assert.Equal(t, "error", results[3].Status)
	assert.Equal(t, Result{ID: "c", Status: "queued"}, results[4])
	assert.Equal(t, []string{"a", "b", "c"}, p.Async())
}

func TestStream_WaitRespectsAdmissionBound(t *testing.T) {
	p := &fakeProducer{delay: 5 * time.Millisecond}
	router := newTestRouter(newTestService(t, p), 0)

	var lines []string
	for i := 0; i < 10; i++ {
		lines = append(lines, `{"id":"evt-`+string(rune('a'+i))+`","type":"t","payload":"p"}`)
	}

	w := doRequest(router, "/events/stream", strings.Join(lines, "\n"), map[string]string{
		"x-ack-mode":      "wait",
		"x-max-in-flight": "2",
	})

	results := readResults(t, w.Body.String())
	require.Len(t, results, 10)
	for _, r := range results {
		assert.Equal(t, "acked", r.Status)
	}
	assert.LessOrEqual(t, p.MaxInFlight(), 2)
	assert.Len(t, p.Published(), 10)
}

func TestStream_WaitDefaultBoundFromConfig(t *testing.T) {
	p := &fakeProducer{delay: 5 * time.Millisecond}
	router := newTestRouter(newTestService(t, p), 1)

	body := `{"id":"a","type":"t","payload":"p"}` + "\n" + `{"id":"b","type":"t","payload":"p"}` + "\n" + `{"id":"c","type":"t","payload":"p"}`
	w := doRequest(router, "/events/stream", body, map[string]string{"x-ack-mode": "wait"})

	assert.Len(t, readResults(t, w.Body.String()), 3)
	assert.Equal(t, 1, p.MaxInFlight())
}

func TestStream_WaitEmitsInCompletionOrder(t *testing.T) {
	slow := make(chan struct{})
	p := &fakeProducer{gates: map[string]chan struct{}{"first": slow}}
	svc := newTestService(t, p)

	body := strings.NewReader(`{"id":"first","type":"t","payload":"p"}` + "\n" + `{"id":"second","type":"t","payload":"p"}`)

	var (
		mu      sync.Mutex
		emitted []Result
	)
	emit := func(r Result) error {
		mu.Lock()
		defer mu.Unlock()
		emitted = append(emitted, r)
		if r.ID == "second" {
			close(slow)
		}
		return nil
	}

	require.NoError(t, svc.Stream(context.Background(), body, WaitForAck, 0, emit))

	require.Len(t, emitted, 2)
	assert.Equal(t, "second", emitted[0].ID)
	assert.Equal(t, "first", emitted[1].ID)
}

func TestStream_WaitMalformedLineIsFatal(t *testing.T) {
	p := &fakeProducer{}
	svc := newTestService(t, p)

	body := strings.NewReader(strings.Join([]string{
		`{"id":"a","type":"t","payload":"p"}`,
		`{broken`,
		`{"id":"b","type":"t","payload":"p"}`,
	}, "\n"))

	var emitted []Result
	err := svc.Stream(context.Background(), body, WaitForAck, 4, func(r Result) error {
		emitted = append(emitted, r)
		return nil
	})

	assert.ErrorIs(t, err, ErrStreamProtocol)
	require.Len(t, emitted, 2)
	assert.Equal(t, Result{ID: "a", Status: "acked"}, emitted[0])
	assert.Equal(t, "error", emitted[1].Status)
	assert.Equal(t, []string{"a"}, p.Published())
}

func TestStream_WaitFailuresReported(t *testing.T) {
	p := &fakeProducer{err: errors.New("no leader")}
	svc := newTestService(t, p)

	var emitted []Result
	err := svc.Stream(context.Background(), strings.NewReader(`{"id":"a","type":"t","payload":"p"}`), WaitForAck, 0, func(r Result) error {
		emitted = append(emitted, r)
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []Result{{ID: "a", Status: "failed"}}, emitted)
}

func TestStream_ClientGoneStillResolvesAdmitted(t *testing.T) {
	p := &fakeProducer{delay: 10 * time.Millisecond}
	svc := newTestService(t, p)

	err := svc.Stream(context.Background(), strings.NewReader(`{"id":"a","type":"t","payload":"p"}`+"\n"+`{"id":"b","type":"t","payload":"p"}`), WaitForAck, 0, func(Result) error {
		return errors.New("broken pipe")
	})

	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, p.Published())
}

type fakeRegistrar struct {
	id int
}

func (r *fakeRegistrar) Register(_ context.Context, _ string, _ string) (int, error) {
	return r.id, nil
}

type staticSource struct {
	schema *decoder.Schema
}

func (s *staticSource) Schema(_ context.Context, _ int) (*decoder.Schema, error) {
	return s.schema, nil
}

func TestSerializers_DecodeBack(t *testing.T) {
	event := models.Event{ID: "evt-1", Type: "click", Payload: "x", TimestampMs: 5}

	container, err := NewContainerSerializer()
	require.NoError(t, err)
	payload, err := container.Serialize(event)
	require.NoError(t, err)
	assert.Equal(t, decoder.FormatContainer, decoder.Select(payload))

	schema, err := decoder.ParseSchema(models.EventSchema)
	require.NoError(t, err)
	d := decoder.NewComposite(&staticSource{schema: schema})

	batch, err := d.Decode(context.Background(), payload)
	require.NoError(t, err)
	assert.Equal(t, event.Native(), batch.Records[0])

	registry, err := NewRegistrySerializer(context.Background(), &fakeRegistrar{id: 3}, "events-value")
	require.NoError(t, err)
	payload, err = registry.Serialize(event)
	require.NoError(t, err)
	assert.Equal(t, decoder.FormatRegistry, decoder.Select(payload))
	assert.Equal(t, []byte{0x00, 0x00, 0x00, 0x00, 0x03}, payload[:5])

	batch, err = d.Decode(context.Background(), payload)
	require.NoError(t, err)
	assert.Equal(t, "evt-1", batch.Records[0]["id"])
}

// streamOverServer posts n lines through a real HTTP/1.1 server. The first line
// is sent alone and its result read back before the rest of the body goes out.
func streamOverServer(t *testing.T, router http.Handler, headers map[string]string, n int) []Result {
	t.Helper()
	srv := httptest.NewServer(router)
	defer srv.Close()

	padding := strings.Repeat("x", 512)
	line := func(i int) string {
		return fmt.Sprintf(`{"id":"evt-%d","type":"t","payload":"%s"}`+"\n", i, padding)
	}

	pr, pw := io.Pipe()
	firstSeen := make(chan struct{})
	go func() {
		defer pw.Close()
		if _, err := io.WriteString(pw, line(0)); err != nil {
			return
		}
		select {
		case <-firstSeen:
		case <-time.After(5 * time.Second):
		}
		for i := 1; i < n; i++ {
			if _, err := io.WriteString(pw, line(i)); err != nil {
				return
			}
		}
	}()

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/events/stream", pr)
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var results []Result
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		var r Result
		require.NoError(t, json.Unmarshal(sc.Bytes(), &r))
		results = append(results, r)
		if len(results) == 1 {
			close(firstSeen)
		}
	}
	require.NoError(t, sc.Err())
	return results
}

func TestStream_ServerReadsWholeBody(t *testing.T) {
	const lines = 700

	tests := []struct {
		name    string
		headers map[string]string
		status  string
		sent    func(p *fakeProducer) []string
	}{
		{
			name:    "fire-and-forget",
			headers: nil,
			status:  "queued",
			sent:    (*fakeProducer).Async,
		},
		{
			name:    "wait",
			headers: map[string]string{"x-ack-mode": "wait", "x-max-in-flight": "4"},
			status:  "acked",
			sent:    (*fakeProducer).Published,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &fakeProducer{}
			results := streamOverServer(t, newTestRouter(newTestService(t, p), 0), tt.headers, lines)

			require.Len(t, results, lines)
			for _, r := range results {
				assert.Equal(t, tt.status, r.Status, r.Error)
			}
			assert.Len(t, tt.sent(p), lines)
		})
	}
}
