package orchestrator

import (
	"fmt"

	"github.com/mpataki/collab/internal/models"
	"github.com/mpataki/collab/internal/poll"
)

const (
	manifestPostLimit = 8000
	feedbackFixLimit  = 2000
	feedbackEscLimit  = 1000
	taskSummaryLimit  = 500
)

const SetupSchema = `{"type":"object","properties":{"channel_id":{"type":"string"},"channel_name":{"type":"string"},"owner_handle":{"type":"string"},"stakeholders":{"type":"array","items":{"type":"object","properties":{"handle":{"type":"string"},"name":{"type":"string"},"role":{"type":"string"},"is_qa":{"type":"boolean"}},"required":["handle","name","role"]}},"threads":{"type":"object","properties":{"stakeholders":{"type":"object"}}},"slack_mcp_available":{"type":"boolean"}},"required":["channel_id","stakeholders","threads","slack_mcp_available"]}`

const DefineSchema = `{"type":"object","properties":{"status":{"type":"string","enum":["waiting_for_response","complete"]},"thread_ts":{"type":"string"},"target_handle":{"type":"string"},"question_summary":{"type":"string"},"manifest_path":{"type":"string"},"discovery_log_path":{"type":"string"}},"required":["status"]}`

const ExecuteSchema = `{"type":"object","properties":{"status":{"type":"string","enum":["escalation_pending","complete"]},"thread_ts":{"type":"string"},"escalation_summary":{"type":"string"},"do_log_path":{"type":"string"}},"required":["status"]}`

const slackToolsRemediation = `Slack MCP tools are not available. Configure a Slack MCP server in your Claude Code settings:
  1. Add a Slack MCP server to your ~/.claude/settings.json
  2. Ensure it provides: create_channel, invite_to_channel, post_message, read_messages/read_thread_replies
  3. Re-run collab.`

func setupPrompt(task string) string {
	return fmt.Sprintf(`You are setting up a collaborative Slack workflow for this task: %s

Do the following using the Slack MCP tools available to you:

1. Detect the owner: check git config user.name/email, CLAUDE.md, or Slack
   user list. The owner is the person running collab.
2. Gather stakeholders: ask the owner for each stakeholder's display name,
   Slack handle (@-mention), and role/expertise. Ask if QA is needed and
   which stakeholders do QA.
3. Verify Slack MCP tools are available by attempting to list channels.
   Set slack_mcp_available to true if successful, false if not.
4. Create a Slack channel named collab-{task-slug}-{YYYYMMDD} where
   task-slug is a short kebab-case summary (max 20 chars). If the name is
   taken, append a random 4-char suffix.
5. Invite all stakeholders (including owner) to the channel.
6. Post an intro message explaining the collaboration workflow.
7. Create a dedicated Q&A thread for each stakeholder: post a message
   "Q&A: {name} ({role})" and record the thread_ts.
8. For relevant stakeholder combinations, create shared threads.

Return the result as JSON with the required fields.
%s`, task, poll.SecurityInstructions)
}

func definePrompt(st models.RunState) string {
	return fmt.Sprintf("/define %s\n\n%s\n%s", st.Task, BuildCollabContext(st), poll.SecurityInstructions)
}

func defineResumePrompt(target, reply string) string {
	return fmt.Sprintf("Stakeholder %s responded:\n\n%s\n\nContinue the /define interview from where you left off.", target, reply)
}

func executePrompt(st models.RunState) string {
	return fmt.Sprintf("/do %s\n\n%s\n%s", st.ManifestPath, BuildCollabContext(st), poll.SecurityInstructions)
}

func executeResumePrompt(owner, reply string) string {
	return fmt.Sprintf("Owner %s responded to escalation:\n\n%s\n\nContinue execution from where you left off.", owner, reply)
}

func reviewPostPrompt(st models.RunState, manifest string) string {
	return fmt.Sprintf(`Post the following manifest to Slack channel %s for review.
Tag all stakeholders and ask for feedback. Tell the owner %s their approval
is needed to proceed.

If the manifest is longer than 4000 characters, split it into numbered
messages.

Manifest content:
`+"```"+`
%s
`+"```"+`
%s`, st.Channel.ID, st.OwnerHandle, clip(manifest, manifestPostLimit), poll.SecurityInstructions)
}

func reviewCheckPrompt(st models.RunState) string {
	return fmt.Sprintf(`Read the latest messages in Slack channel %s.
Check if the owner (%s) has approved the manifest
(e.g., "approved", "lgtm", "looks good") or provided feedback.

- If approved: set approved=true
- If feedback was given: set approved=false and include the feedback text
- If no response yet: set approved=false and feedback=null
%s`, st.Channel.ID, st.OwnerHandle, poll.SecurityInstructions)
}

func reviewEscalatePrompt(st models.RunState, maxAttempts int, feedback string) string {
	return fmt.Sprintf(`Post to Slack channel %s:
"The manifest has been revised %d times but the review feedback persists.
%s, please advise on how to proceed.

Latest feedback: %s"
%s`, st.Channel.ID, maxAttempts, st.OwnerHandle, clip(feedback, feedbackEscLimit), poll.SecurityInstructions)
}

// revisedTask appends the revision context a fresh define needs.
func revisedTask(st models.RunState, feedback string) string {
	return fmt.Sprintf("%s\n\nExisting manifest (needs revision): %s\nFeedback: %s", st.Task, st.ManifestPath, feedback)
}

func prCreatePrompt(st models.RunState) string {
	return fmt.Sprintf(`Create a pull request for the changes made during execution of the
manifest at %s. Use `+"`gh pr create`"+` with a meaningful title
and body derived from the manifest's Intent section.

After creating the PR, return the PR URL.
%s`, st.ManifestPath, poll.SecurityInstructions)
}

func prPostPrompt(st models.RunState) string {
	url := st.PRURL
	if url == "" {
		url = "(check GitHub)"
	}
	return fmt.Sprintf(`Post to Slack channel %s:
"PR ready for review: %s
Reviewers: %s
Please review and approve!"
%s`, st.Channel.ID, url, models.Handles(st.Reviewers()), poll.SecurityInstructions)
}

func prCheckPrompt(st models.RunState) string {
	target := "the pull request"
	if st.PRURL != "" {
		target = "the pull request " + st.PRURL
	}
	return fmt.Sprintf(`Check the status of %s. Use `+"`gh pr view`"+` to see if it
has been approved, has review comments, or changes requested.

- If approved by all reviewers: set approved=true
- If there are review comments or changes requested: set approved=false
  and include the feedback summary
- If still pending: set approved=false and feedback=null
%s`, target, poll.SecurityInstructions)
}

func prFixPrompt(st models.RunState, feedback string) string {
	return fmt.Sprintf(`Fix the following PR review comments and push the changes:
%s

Then post a summary of what was fixed to Slack channel %s.
%s`, clip(feedback, feedbackFixLimit), st.Channel.ID, poll.SecurityInstructions)
}

func prEscalatePrompt(st models.RunState, maxAttempts int, feedback string) string {
	return fmt.Sprintf(`Post to Slack channel %s:
"I've attempted %d fixes for PR review comments but the issues persist.
%s, please advise on how to proceed.

Latest feedback: %s"
%s`, st.Channel.ID, maxAttempts, st.OwnerHandle, clip(feedback, feedbackEscLimit), poll.SecurityInstructions)
}

func qaPostPrompt(st models.RunState) string {
	return fmt.Sprintf(`Post to Slack channel %s:
"QA requested. %s, please test the changes in PR %s.
Reply here when done, or report issues."
%s`, st.Channel.ID, models.Handles(st.QAStakeholders()), st.PRURL, poll.SecurityInstructions)
}

func qaCheckPrompt(st models.RunState) string {
	return fmt.Sprintf(`Read the latest messages in Slack channel %s.
Check if QA stakeholders (%s) have signed off
(e.g., "done", "approved", "all good") or reported issues.

- If signed off: set approved=true
- If issues reported: set approved=false and include the issue text
- If no response yet: set approved=false and feedback=null
%s`, st.Channel.ID, models.Handles(st.QAStakeholders()), poll.SecurityInstructions)
}

func qaFixPrompt(st models.RunState, feedback string) string {
	return fmt.Sprintf(`Fix the following QA issues and push the changes:
%s

Then post a summary of what was fixed to Slack channel %s.
%s`, clip(feedback, feedbackFixLimit), st.Channel.ID, poll.SecurityInstructions)
}

func qaEscalatePrompt(st models.RunState, maxAttempts int, feedback string) string {
	return fmt.Sprintf(`Post to Slack channel %s:
"I've attempted %d QA fixes but issues persist. %s, please advise.

Latest issues: %s"
%s`, st.Channel.ID, maxAttempts, st.OwnerHandle, clip(feedback, feedbackEscLimit), poll.SecurityInstructions)
}

func donePrompt(st models.RunState) string {
	url := st.PRURL
	if url == "" {
		url = "N/A"
	}
	return fmt.Sprintf(`Post to Slack channel %s:
"Workflow complete!

Task: %s
PR: %s

Thanks to all stakeholders for collaborating!"
%s`, st.Channel.ID, clip(st.Task, taskSummaryLimit), url, poll.SecurityInstructions)
}

// clip keeps the first n characters of s.
func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
