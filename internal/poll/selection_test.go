package poll

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSelectPollable(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		ids       []string
		focused   string
		cooldowns map[string]time.Time
		want      []string
	}{
		{
			name: "no exclusions keeps order",
			ids:  []string{"a", "b", "c"},
			want: []string{"a", "b", "c"},
		},
		{
			name:    "focused thread excluded",
			ids:     []string{"a", "b", "c"},
			focused: "b",
			want:    []string{"a", "c"},
		},
		{
			name: "active cooldown excluded",
			ids:  []string{"a", "b"},
			cooldowns: map[string]time.Time{
				"a": now.Add(10 * time.Second),
			},
			want: []string{"b"},
		},
		{
			name: "elapsed cooldown included",
			ids:  []string{"a", "b"},
			cooldowns: map[string]time.Time{
				"a": now.Add(-time.Second),
			},
			want: []string{"a", "b"},
		},
		{
			name:    "focused and cooled down combine",
			ids:     []string{"a", "b", "c"},
			focused: "a",
			cooldowns: map[string]time.Time{
				"c": now.Add(time.Minute),
			},
			want: []string{"b"},
		},
		{
			name: "empty input",
			ids:  nil,
			want: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SelectPollable(tt.ids, tt.focused, tt.cooldowns, now)
			require.Equal(t, tt.want, got)
		})
	}
}
