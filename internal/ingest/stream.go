package ingest

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"golang.org/x/sync/semaphore"

	"rivulet/internal/constants"
	"rivulet/pkg/metrics"
	"rivulet/pkg/models"
)

// EventRequest is the JSON body of a single submission and of each stream
// line.
type EventRequest struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	Payload     string `json:"payload"`
	TimestampMs *int64 `json:"timestampMs"`
}

// Result is one line of a stream response.
type Result struct {
	ID     string `json:"id,omitempty"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// streamState bounds and tracks the wait-for-ack submissions of one stream.
type streamState struct {
	sem         *semaphore.Weighted
	outstanding sync.WaitGroup
	exhausted   bool
}

func newStreamState(maxInFlight int) *streamState {
	st := &streamState{}
	if maxInFlight > 0 {
		st.sem = semaphore.NewWeighted(int64(maxInFlight))
	}
	return st
}

// admit blocks the reading goroutine until a slot is free.
func (st *streamState) admit(ctx context.Context) error {
	if st.sem != nil {
		if err := st.sem.Acquire(ctx, 1); err != nil {
			return err
		}
	}
	st.outstanding.Add(1)
	metrics.IngestStreamInFlight.Inc()
	return nil
}

func (st *streamState) release() {
	if st.sem != nil {
		st.sem.Release(1)
	}
	metrics.IngestStreamInFlight.Dec()
	st.outstanding.Done()
}

// Stream reads newline-delimited events from body and reports one Result per
// non-blank line through emit. Fire-and-forget results follow input order;
// wait-for-ack results follow completion order. Stream returns only after
// the input is exhausted and every admitted submission has resolved.
//
// emit is only ever called from a single goroutine. Once it fails the
// remaining results are discarded.
func (s *Service) Stream(ctx context.Context, body io.Reader, mode AckMode, maxInFlight int, emit func(Result) error) error {
	results := make(chan Result, 64)
	writerDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		broken := false
		for r := range results {
			if broken {
				continue
			}
			if err := emit(r); err != nil {
				broken = true
				s.logger.DebugwCtx(ctx, "Stream client gone, discarding results", "error", err)
			}
		}
	}()

	st := newStreamState(maxInFlight)
	streamErr := s.readLines(ctx, body, mode, st, results)

	st.outstanding.Wait()
	if streamErr != nil && ctx.Err() == nil {
		results <- Result{Status: constants.StatusError, Error: streamErr.Error()}
	}
	close(results)
	<-writerDone

	s.logger.DebugwCtx(ctx, "Stream finished",
		"mode", mode.String(),
		"input_exhausted", st.exhausted,
		"error", streamErr,
	)
	return streamErr
}

func (s *Service) readLines(ctx context.Context, body io.Reader, mode AckMode, st *streamState, results chan<- Result) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), s.maxLineBytes)

	lineNo := 0
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		lineNo++

		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		event, err := s.parseLine(line)
		if err != nil {
			perr := fmt.Errorf("%w: line %d: %v", ErrStreamProtocol, lineNo, err)
			if mode == WaitForAck {
				return perr
			}
			metrics.IncIngestEvent(mode.String(), constants.StatusError)
			results <- Result{Status: constants.StatusError, Error: perr.Error()}
			continue
		}

		if mode == FireAndForget {
			status, _ := s.Submit(ctx, event, FireAndForget)
			results <- Result{ID: event.ID, Status: status}
			continue
		}

		if err := st.admit(ctx); err != nil {
			return err
		}
		go func(e models.Event) {
			defer st.release()
			// admitted submissions finish even if the client goes away
			status, _ := s.Submit(context.WithoutCancel(ctx), e, WaitForAck)
			results <- Result{ID: e.ID, Status: status}
		}(event)
	}
	st.exhausted = true

	if err := scanner.Err(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("reading stream: %w", err)
	}
	return nil
}

func (s *Service) parseLine(line []byte) (models.Event, error) {
	var req EventRequest
	if err := json.Unmarshal(line, &req); err != nil {
		return models.Event{}, err
	}

	e := s.NewEvent(req)
	if err := models.ValidateEvent(e); err != nil {
		return models.Event{}, err
	}
	return e, nil
}
