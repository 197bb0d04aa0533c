package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/zerverless/coordinator/internal/catalog"
	"github.com/zerverless/coordinator/internal/coordinator"
	"github.com/zerverless/coordinator/internal/events"
	"github.com/zerverless/coordinator/internal/job"
	"github.com/zerverless/coordinator/internal/metrics"
	"github.com/zerverless/coordinator/internal/volunteer"
)

// candidates is how many listed jobs a session tries before giving up on a
// dispatch round; other sessions may take slots between listing and assigning.
const candidates = 5

type Server struct {
	vm      *volunteer.Manager
	coord   *coordinator.Coordinator
	connsMu sync.RWMutex
	conns   map[string]*websocket.Conn
}

func NewServer(vm *volunteer.Manager, coord *coordinator.Coordinator) *Server {
	return &Server{
		vm:    vm,
		coord: coord,
		conns: make(map[string]*websocket.Conn),
	}
}

// dispatch assigns the next runnable job to an idle session. It reports
// whether a job was sent.
func (s *Server) dispatch(ctx context.Context, v *volunteer.Volunteer) bool {
	if !v.Claim() {
		return false
	}

	s.connsMu.RLock()
	conn, ok := s.conns[v.ID]
	s.connsMu.RUnlock()
	if !ok {
		v.SetIdle()
		return false
	}

	contributorID, caps := v.Identity()
	keep := func(jt catalog.JobType) bool { return runnable(caps, jt) }
	for _, summary := range s.coord.ListRunnableJobs(contributorID, caps, candidates, keep) {
		j, err := s.coord.AssignJob(summary.ID, contributorID, caps)
		if errors.Is(err, job.ErrJobNotAvailable) || errors.Is(err, job.ErrJobNotFound) {
			continue
		}
		if err != nil {
			log.WithField("job", summary.ID).Warnf("Assignment failed: %v", err)
			continue
		}

		jt, _ := s.coord.Catalog().Get(j.JobType)
		v.SetBusy(j.ID)
		msg := JobMessage{
			Type:       TypeJob,
			JobID:      j.ID,
			JobType:    j.JobType,
			Parameters: j.Parameters,
			Kernel:     jt.Kernel,
		}

		wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = wsjson.Write(wctx, conn, msg)
		cancel()
		if err != nil {
			// The slot stays held; the housekeeper abandons the job if it
			// never reaches quorum.
			log.WithFields(log.Fields{"job": j.ID, "volunteer": v.ID}).Warnf("Failed to send job: %v", err)
			v.SetIdle()
			return false
		}

		log.WithFields(log.Fields{"job": j.ID, "volunteer": v.ID, "contributor": contributorID}).Info("Dispatched job")
		return true
	}

	v.SetIdle()
	return false
}

// runnable reports whether the session can execute the job type. Sessions
// that advertise no kernel runtime compute natively and take any job their
// hardware satisfies.
func runnable(caps volunteer.Capabilities, jt catalog.JobType) bool {
	if jt.Kernel == nil || (!caps.Lua && !caps.JS) {
		return true
	}
	return caps.SupportsKernel(jt.Kernel.Runtime)
}

// DispatchToIdle offers pending work to every idle session.
func (s *Server) DispatchToIdle() {
	for _, v := range s.vm.Idle() {
		s.dispatch(context.Background(), v)
	}
}

func (s *Server) Name() string { return "dispatch" }

// Handle pushes work to idle sessions whenever a job opens up.
func (s *Server) Handle(_ context.Context, ev events.Event) error {
	if ev.Kind == events.KindGenerated || ev.Kind == events.KindReopened {
		s.DispatchToIdle()
	}
	return nil
}

func (s *Server) HandleVolunteer(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		log.Warnf("WebSocket accept error: %v", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "goodbye")

	v := volunteer.New()
	v.UserAgent = r.UserAgent()
	v.SetBusy("")
	s.vm.Add(v)
	metrics.VolunteersConnected.Inc()

	s.connsMu.Lock()
	s.conns[v.ID] = conn
	s.connsMu.Unlock()

	defer func() {
		s.connsMu.Lock()
		delete(s.conns, v.ID)
		s.connsMu.Unlock()
		s.vm.Remove(v.ID)
		metrics.VolunteersConnected.Dec()
	}()

	ack := AckMessage{Type: TypeAck, VolunteerID: v.ID, ContributorID: v.ContributorID}
	if err := wsjson.Write(r.Context(), conn, ack); err != nil {
		log.Warnf("Failed to send ack: %v", err)
		return
	}

	s.handleMessages(r.Context(), conn, v)
}

func (s *Server) handleMessages(ctx context.Context, conn *websocket.Conn, v *volunteer.Volunteer) {
	logger := log.WithField("volunteer", v.ID)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				logger.Debugf("WebSocket read error: %v", err)
			}
			return
		}

		var msg BaseMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			logger.Warnf("Invalid message format: %v", err)
			continue
		}

		switch msg.Type {
		case TypeReady:
			var ready ReadyMessage
			if err := json.Unmarshal(data, &ready); err != nil {
				logger.Warnf("Invalid ready message: %v", err)
				continue
			}
			v.Ready(ready.ContributorID, ready.Capabilities)
			logger.WithField("contributor", v.ContributorID).Info("Volunteer ready")
			s.next(ctx, conn, v)

		case TypeHeartbeat:
			v.UpdateHeartbeat()
			wsjson.Write(ctx, conn, HeartbeatMessage{Type: TypeHeartbeat, Timestamp: time.Now().UTC()})

		case TypeResult:
			var result ResultMessage
			if err := json.Unmarshal(data, &result); err != nil {
				logger.Warnf("Invalid result message: %v", err)
				continue
			}
			contributorID, _ := v.Identity()
			verdict := VerdictMessage{Type: TypeVerdict, JobID: result.JobID}
			outcome, err := s.coord.SubmitResult(result.JobID, contributorID, result.Result, result.ComputeTimeMs)
			if err != nil {
				logger.WithField("job", result.JobID).Warnf("Result rejected: %v", err)
				verdict.Error = err.Error()
			} else {
				v.Submitted()
				verdict.Accepted = outcome.Accepted
				verdict.VerificationPending = outcome.VerificationPending
				verdict.Status = outcome.Status
			}
			wsjson.Write(ctx, conn, verdict)
			v.SetIdle()
			s.next(ctx, conn, v)

		case TypeError:
			var errMsg ErrorMessage
			json.Unmarshal(data, &errMsg)
			logger.WithField("job", errMsg.JobID).Warnf("Volunteer failed job: %s", errMsg.Error)
			v.Failed()
			v.SetIdle()
			s.next(ctx, conn, v)

		case TypeQuit:
			logger.Info("Volunteer quit")
			return

		default:
			logger.Warnf("Unknown message type: %s", msg.Type)
		}
	}
}

// next dispatches to the session or tells it there is nothing to do.
func (s *Server) next(ctx context.Context, conn *websocket.Conn, v *volunteer.Volunteer) {
	if s.dispatch(ctx, v) || v.CurrentStatus() == volunteer.StatusBusy {
		return
	}
	wsjson.Write(ctx, conn, IdleMessage{Type: TypeIdle})
}
