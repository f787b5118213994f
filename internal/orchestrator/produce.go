package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mpataki/collab/internal/models"
	"github.com/mpataki/collab/internal/poll"
	"github.com/mpataki/collab/internal/worker"
)

// artifactAttempts bounds the calls an artifact-producing phase makes: the
// first one plus a single retry.
const artifactAttempts = 2

// session describes a long-running worker conversation that ends in an
// artifact on disk. While it runs the worker may stop to wait for a human;
// the orchestrator then polls the thread and resumes the same session with
// the reply.
type session struct {
	label   string
	prompt  string
	schema  string
	timeout time.Duration

	// pathKey names the result field holding the artifact path.
	pathKey string

	// waiting is the status the worker reports while it needs a human.
	waiting string
	thread  func(res worker.Result) poll.Thread
	resume  func(th poll.Thread, reply string) string
}

// produceArtifact runs s until it yields a valid artifact. A worker failure
// or an invalid artifact earns one more attempt with a fresh session; poll
// failures, unknown statuses and cancellation do not.
func (o *Orchestrator) produceArtifact(ctx context.Context, s session) (worker.Result, string, error) {
	log := o.logger.With(zap.String("label", s.label))

	var lastErr error
	for attempt := 1; attempt <= artifactAttempts; attempt++ {
		res, retryable, err := o.converse(ctx, s)
		if err != nil {
			if !retryable || ctx.Err() != nil {
				return nil, "", err
			}
			lastErr = err
			log.Warn("worker call failed", zap.Int("attempt", attempt), zap.Error(err))
			continue
		}

		path := res.String(s.pathKey)
		if ValidateArtifact(path) {
			return res, path, nil
		}
		lastErr = fmt.Errorf("%w: %s %q is missing or empty", ErrInvalidArtifact, s.pathKey, path)
		log.Warn("invalid artifact", zap.Int("attempt", attempt), zap.String("path", path))
	}

	return nil, "", fmt.Errorf("%s failed after %d attempts: %w", s.label, artifactAttempts, lastErr)
}

// converse runs one session to completion. The bool reports whether a
// failure came from the worker itself and is worth retrying. A result
// without a status is as fatal as an unknown one.
func (o *Orchestrator) converse(ctx context.Context, s session) (worker.Result, bool, error) {
	sessionID := uuid.NewString()
	req := worker.Request{
		Label:     s.label,
		Prompt:    s.prompt,
		Schema:    s.schema,
		Timeout:   s.timeout,
		Env:       map[string]string{worker.AgentTeamsEnv: "1"},
		SessionID: sessionID,
	}

	for {
		res, err := o.worker.Invoke(ctx, req)
		if err != nil {
			var werr *worker.Error
			return nil, errors.As(err, &werr), err
		}

		switch status := res.String("status"); status {
		case "complete":
			return res, false, nil

		case s.waiting:
			th := s.thread(res)
			o.logger.Info("worker is waiting on a human",
				zap.String("label", s.label),
				zap.String("target", th.Target),
				zap.String("thread", th.ThreadRef))

			reply, err := o.replies.WaitForReply(ctx, th)
			if err != nil {
				return nil, false, err
			}
			req = worker.Request{
				Label:           s.label + ".resume",
				Prompt:          s.resume(th, reply),
				Schema:          s.schema,
				Timeout:         s.timeout,
				Env:             req.Env,
				ResumeSessionID: sessionID,
			}

		default:
			return nil, false, fmt.Errorf("%w: %s returned status %q", ErrUnexpectedResult, s.label, status)
		}
	}
}

func (o *Orchestrator) define(ctx context.Context, st models.RunState) (Transition, error) {
	res, path, err := o.produceArtifact(ctx, session{
		label:   "define",
		prompt:  definePrompt(st),
		schema:  DefineSchema,
		timeout: o.timeouts.Define,
		pathKey: "manifest_path",
		waiting: "waiting_for_response",
		thread: func(res worker.Result) poll.Thread {
			return poll.Thread{
				ChannelID: st.Channel.ID,
				ThreadRef: res.String("thread_ts"),
				Target:    res.String("target_handle"),
				Owner:     st.OwnerHandle,
			}
		},
		resume: func(th poll.Thread, reply string) string {
			return defineResumePrompt(th.Target, reply)
		},
	})
	if err != nil {
		return Transition{State: st}, err
	}

	st.ManifestPath = path
	if d := res.String("discovery_log_path"); d != "" {
		if ValidateArtifact(d) {
			st.DiscoveryLogPath = d
		} else {
			o.logger.Warn("discovery log missing, not recorded", zap.String("path", d))
		}
	}

	o.logger.Info("manifest ready", zap.String("manifest", path))
	return Advance(st), nil
}

func (o *Orchestrator) execute(ctx context.Context, st models.RunState) (Transition, error) {
	if !ValidateArtifact(st.ManifestPath) {
		return Transition{State: st}, fmt.Errorf("%w: manifest %q", ErrInvalidArtifact, st.ManifestPath)
	}

	_, path, err := o.produceArtifact(ctx, session{
		label:   "execute",
		prompt:  executePrompt(st),
		schema:  ExecuteSchema,
		timeout: o.timeouts.Execute,
		pathKey: "do_log_path",
		waiting: "escalation_pending",
		thread: func(res worker.Result) poll.Thread {
			return poll.Thread{
				ChannelID: st.Channel.ID,
				ThreadRef: res.String("thread_ts"),
				Target:    st.OwnerHandle,
				Owner:     st.OwnerHandle,
			}
		},
		resume: func(th poll.Thread, reply string) string {
			return executeResumePrompt(th.Owner, reply)
		},
	})
	if err != nil {
		return Transition{State: st}, err
	}

	st.ExecuteLogPath = path
	o.logger.Info("execution complete", zap.String("log", path))
	return Advance(st), nil
}
