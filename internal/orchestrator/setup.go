package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/mpataki/collab/internal/models"
	"github.com/mpataki/collab/internal/worker"
)

// setup has the worker create the channel, collect the stakeholders and
// open their threads. A run that already has a channel is never set up
// twice.
func (o *Orchestrator) setup(ctx context.Context, st models.RunState) (Transition, error) {
	if st.Configured() {
		o.logger.Info("collaboration space already set up", zap.String("channel", st.Channel.Name))
		return Advance(st), nil
	}

	res, err := o.worker.Invoke(ctx, worker.Request{
		Label:   "setup",
		Prompt:  setupPrompt(st.Task),
		Schema:  SetupSchema,
		Timeout: o.timeouts.Setup,
	})
	if err != nil {
		return Transition{State: st}, err
	}

	if !res.Bool("slack_mcp_available") {
		return Transition{State: st}, fmt.Errorf("%w: %s", ErrPrecondition, slackToolsRemediation)
	}
	channelID := res.String("channel_id")
	if channelID == "" {
		return Transition{State: st}, fmt.Errorf("%w: setup returned no channel_id", ErrPrecondition)
	}

	var stakeholders []models.Stakeholder
	if err := decodeField(res, "stakeholders", &stakeholders); err != nil {
		return Transition{State: st}, fmt.Errorf("%w: stakeholders: %v", ErrUnexpectedResult, err)
	}
	if len(stakeholders) == 0 {
		return Transition{State: st}, fmt.Errorf("%w: setup returned no stakeholders", ErrPrecondition)
	}
	for i, sh := range stakeholders {
		if sh.Handle == "" {
			return Transition{State: st}, fmt.Errorf("%w: stakeholder %d has no handle", ErrUnexpectedResult, i)
		}
	}

	var threads models.Threads
	if err := decodeField(res, "threads", &threads); err != nil {
		return Transition{State: st}, fmt.Errorf("%w: threads: %v", ErrUnexpectedResult, err)
	}
	if threads.Stakeholders == nil {
		threads.Stakeholders = map[string]string{}
	}

	st.Channel = models.Channel{ID: channelID, Name: res.String("channel_name")}
	st.OwnerHandle = res.String("owner_handle")
	st.Stakeholders = stakeholders
	st.Threads = threads
	st.HasQA = models.HasQAStakeholder(stakeholders)

	o.logger.Info("setup complete",
		zap.String("channel", st.Channel.Name),
		zap.String("owner", st.OwnerHandle),
		zap.Int("stakeholders", len(stakeholders)),
		zap.Bool("has_qa", st.HasQA))
	return Advance(st), nil
}

// decodeField re-decodes one loosely typed field of a result into out.
// Absent and null fields leave out untouched.
func decodeField(res worker.Result, key string, out any) error {
	v, ok := res[key]
	if !ok || v == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}
