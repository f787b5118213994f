package orchestrator

import (
	"sort"
	"strings"

	"github.com/mpataki/collab/internal/models"
)

// BuildCollabContext renders the block that tells long-running worker
// sessions where the collaboration happens. Thread keys are sorted so the
// prompt is stable across resumes.
func BuildCollabContext(st models.RunState) string {
	var b strings.Builder
	b.WriteString("COLLAB_CONTEXT:\n")
	b.WriteString("  channel_id: " + st.Channel.ID + "\n")
	b.WriteString("  owner_handle: " + st.OwnerHandle + "\n")
	b.WriteString("  threads:\n")
	b.WriteString("    stakeholders:\n")

	keys := make([]string, 0, len(st.Threads.Stakeholders))
	for k := range st.Threads.Stakeholders {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString("      " + k + ": " + st.Threads.Stakeholders[k] + "\n")
	}

	b.WriteString("  stakeholders:\n")
	for _, sh := range st.Stakeholders {
		b.WriteString("    - handle: " + sh.Handle + "\n")
		b.WriteString("      name: " + sh.Name + "\n")
		b.WriteString("      role: " + sh.Role + "\n")
	}

	return strings.TrimSuffix(b.String(), "\n")
}
