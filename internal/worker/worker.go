// Package worker is a reference contributor. It connects to the coordinator
// over websocket, runs each job's kernel and reports the numeric fields.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"time"

	log "github.com/sirupsen/logrus"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/zerverless/coordinator/internal/js"
	"github.com/zerverless/coordinator/internal/lua"
	"github.com/zerverless/coordinator/internal/volunteer"
	"github.com/zerverless/coordinator/internal/wasm"
	"github.com/zerverless/coordinator/internal/ws"
)

type Options struct {
	ContributorID  string
	Capabilities   *volunteer.Capabilities
	KernelTimeout  time.Duration
	ReconnectDelay time.Duration
	HeartbeatEvery time.Duration
}

type Worker struct {
	url  string
	opts Options
	lua  *lua.Runtime
	js   *js.Runtime
	wasm *wasm.Runtime

	id            string
	jobsSubmitted int
	jobsFailed    int
}

func New(url string) *Worker {
	return NewWithOptions(url, Options{})
}

func NewWithOptions(url string, opts Options) *Worker {
	if opts.Capabilities == nil {
		opts.Capabilities = &volunteer.Capabilities{
			Lua:      true,
			JS:       true,
			Wasm:     true,
			CPUCores: runtime.NumCPU(),
			MemoryGB: 1,
		}
	}
	if opts.KernelTimeout <= 0 {
		opts.KernelTimeout = time.Minute
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = 5 * time.Second
	}
	if opts.HeartbeatEvery <= 0 {
		opts.HeartbeatEvery = 30 * time.Second
	}
	return &Worker{
		url:  url,
		opts: opts,
		lua:  lua.NewRuntime(),
		js:   js.NewRuntime(),
		wasm: wasm.NewRuntime(),
	}
}

func (w *Worker) Run(ctx context.Context) error {
	defer w.wasm.Close(context.Background())

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			if err := w.connect(ctx); err != nil {
				log.Warnf("Connection error: %v, reconnecting in %s...", err, w.opts.ReconnectDelay)
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(w.opts.ReconnectDelay):
				}
			}
		}
	}
}

func (w *Worker) connect(ctx context.Context) error {
	log.Infof("Connecting to %s...", w.url)

	conn, _, err := websocket.Dial(ctx, w.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "goodbye")

	var ack ws.AckMessage
	if err := wsjson.Read(ctx, conn, &ack); err != nil {
		return fmt.Errorf("read ack: %w", err)
	}

	w.id = ack.VolunteerID
	if w.opts.ContributorID == "" {
		w.opts.ContributorID = ack.ContributorID
	}
	log.WithFields(log.Fields{"volunteer": w.id, "contributor": w.opts.ContributorID}).Info("Connected")

	if err := w.sendReady(ctx, conn); err != nil {
		return fmt.Errorf("send ready: %w", err)
	}

	hbCtx, stop := context.WithCancel(ctx)
	defer stop()
	go w.heartbeat(hbCtx, conn)

	return w.messageLoop(ctx, conn)
}

func (w *Worker) messageLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		var base ws.BaseMessage
		if err := json.Unmarshal(data, &base); err != nil {
			log.Warnf("Invalid message: %v", err)
			continue
		}

		switch base.Type {
		case ws.TypeJob:
			var job ws.JobMessage
			if err := json.Unmarshal(data, &job); err != nil {
				log.Warnf("Invalid job message: %v", err)
				continue
			}
			if err := w.executeJob(ctx, conn, job); err != nil {
				return err
			}

		case ws.TypeVerdict:
			var v ws.VerdictMessage
			json.Unmarshal(data, &v)
			if v.Error != "" {
				log.WithField("job", v.JobID).Warnf("Result rejected: %s", v.Error)
			} else {
				log.WithFields(log.Fields{"job": v.JobID, "status": v.Status}).Debug("Result accepted")
			}

		case ws.TypeIdle:
			log.Debug("No work available")

		case ws.TypeHeartbeat:

		default:
			log.Warnf("Unknown message type: %s", base.Type)
		}
	}
}

// run executes the job's kernel and returns its fields and elapsed time.
func (w *Worker) run(ctx context.Context, job ws.JobMessage) (map[string]float64, int64, error) {
	if job.Kernel == nil {
		return nil, 0, fmt.Errorf("job type %s has no kernel", job.JobType)
	}

	start := time.Now()
	var (
		values map[string]float64
		err    error
	)
	switch job.Kernel.Runtime {
	case "lua":
		var res *lua.Result
		if res, err = w.lua.Execute(ctx, job.Kernel.Code, job.Parameters, w.opts.KernelTimeout); err == nil {
			values = res.Values
		}
	case "js", "javascript":
		var res *js.Result
		if res, err = w.js.Execute(ctx, job.Kernel.Code, job.Parameters, w.opts.KernelTimeout); err == nil {
			values = res.Values
		}
	case "wasm":
		var module []byte
		if module, err = wasm.Decode(job.Kernel.Code); err == nil {
			var res *wasm.Result
			if res, err = w.wasm.Execute(ctx, module, job.Parameters, w.opts.KernelTimeout); err == nil {
				values = res.Values
			}
		}
	default:
		err = fmt.Errorf("kernel runtime %q not available", job.Kernel.Runtime)
	}
	return values, time.Since(start).Milliseconds(), err
}

func (w *Worker) executeJob(ctx context.Context, conn *websocket.Conn, job ws.JobMessage) error {
	logger := log.WithFields(log.Fields{"job": job.JobID, "type": job.JobType})
	logger.Info("Executing job")

	values, elapsed, err := w.run(ctx, job)
	if err != nil {
		w.jobsFailed++
		logger.Warnf("Job failed: %v", err)
		return wsjson.Write(ctx, conn, ws.ErrorMessage{Type: ws.TypeError, JobID: job.JobID, Error: err.Error()})
	}

	msg := ws.ResultMessage{
		Type:          ws.TypeResult,
		JobID:         job.JobID,
		Result:        values,
		ComputeTimeMs: elapsed,
	}
	if err := wsjson.Write(ctx, conn, msg); err != nil {
		w.jobsFailed++
		return fmt.Errorf("send result: %w", err)
	}

	w.jobsSubmitted++
	logger.Infof("Job submitted in %dms (total: %d)", elapsed, w.jobsSubmitted)
	return nil
}

func (w *Worker) sendReady(ctx context.Context, conn *websocket.Conn) error {
	msg := ws.ReadyMessage{
		Type:          ws.TypeReady,
		ContributorID: w.opts.ContributorID,
		Capabilities:  w.opts.Capabilities,
	}
	return wsjson.Write(ctx, conn, msg)
}

func (w *Worker) heartbeat(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(w.opts.HeartbeatEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := wsjson.Write(ctx, conn, ws.HeartbeatMessage{Type: ws.TypeHeartbeat}); err != nil {
				return
			}
		}
	}
}
