package llm

import "testing"

func TestUsage_Total(t *testing.T) {
	tests := []struct {
		name  string
		usage Usage
		want  int
	}{
		{"empty", Usage{}, 0},
		{"input only", Usage{InputTokens: 12}, 12},
		{"both", Usage{InputTokens: 12, OutputTokens: 7}, 19},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.usage.Total(); got != tt.want {
				t.Errorf("Total() = %d, want %d", got, tt.want)
			}
		})
	}
}
