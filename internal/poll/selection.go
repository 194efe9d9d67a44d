package poll

import "time"

// SelectPollable filters the known thread ids down to those worth polling
// now. The focused thread is excluded because the stream ownership
// coordinator keeps it live, and threads inside their busy cooldown window
// are skipped. Pure function; order is preserved.
func SelectPollable(agentIDs []string, focusedID string, cooldowns map[string]time.Time, now time.Time) []string {
	out := make([]string, 0, len(agentIDs))
	for _, id := range agentIDs {
		if id == focusedID {
			continue
		}
		if until, ok := cooldowns[id]; ok && now.Before(until) {
			continue
		}
		out = append(out, id)
	}
	return out
}
