package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newActiveProtocol(total, current int) *Protocol {
	return &Protocol{
		ID:          "protocol-id",
		BottleID:    "bottle-id",
		SessionID:   SessionIDPrefix + "0123456789abcdef0123456789abcdef",
		ProductID:   "p-1",
		ProductName: "Product",
		Status:      ProtocolActive,
		TotalDays:   total,
		CurrentDay:  current,
	}
}

func TestProtocolAdvanceDay(t *testing.T) {
	tests := []struct {
		name       string
		status     string
		total      int
		current    int
		wantErr    error
		wantDay    int
		wantStatus string
	}{
		{
			name:       "first day",
			status:     ProtocolActive,
			total:      30,
			current:    0,
			wantDay:    1,
			wantStatus: ProtocolActive,
		},
		{
			name:       "reaching the last day completes",
			status:     ProtocolActive,
			total:      30,
			current:    29,
			wantDay:    30,
			wantStatus: ProtocolCompleted,
		},
		{
			name:       "single day protocol completes at once",
			status:     ProtocolActive,
			total:      1,
			current:    0,
			wantDay:    1,
			wantStatus: ProtocolCompleted,
		},
		{
			name:       "edited to total while active completes without overshoot",
			status:     ProtocolActive,
			total:      10,
			current:    10,
			wantDay:    10,
			wantStatus: ProtocolCompleted,
		},
		{
			name:    "completed protocol cannot advance",
			status:  ProtocolCompleted,
			total:   10,
			current: 10,
			wantErr: ErrInvalidTransition,
			wantDay: 10,
		},
		{
			name:    "paused protocol cannot advance",
			status:  ProtocolPaused,
			total:   10,
			current: 4,
			wantErr: ErrInvalidTransition,
			wantDay: 4,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newActiveProtocol(tt.total, tt.current)
			p.Status = tt.status
			err := p.AdvanceDay()
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, tt.wantDay, p.CurrentDay)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantDay, p.CurrentDay)
			assert.Equal(t, tt.wantStatus, p.Status)
		})
	}
}

func TestProtocolAdvanceNeverExceedsTotal(t *testing.T) {
	for total := 1; total <= 40; total++ {
		p := newActiveProtocol(total, 0)
		for i := 0; i < total+5; i++ {
			_ = p.AdvanceDay()
			require.LessOrEqual(t, p.CurrentDay, p.TotalDays, "total=%d step=%d", total, i)
		}
		assert.Equal(t, total, p.CurrentDay)
		assert.Equal(t, ProtocolCompleted, p.Status)
	}
}

func TestProtocolPauseResume(t *testing.T) {
	p := newActiveProtocol(5, 2)

	require.NoError(t, p.Pause())
	assert.Equal(t, ProtocolPaused, p.Status)
	require.NoError(t, p.Pause(), "pause is idempotent")

	require.NoError(t, p.Resume())
	assert.Equal(t, ProtocolActive, p.Status)
	require.NoError(t, p.Resume(), "resume is idempotent")

	p.Status = ProtocolCompleted
	assert.ErrorIs(t, p.Pause(), ErrInvalidTransition)
	assert.ErrorIs(t, p.Resume(), ErrInvalidTransition)
}

func TestProtocolValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *Protocol)
		field  string
	}{
		{"valid", func(p *Protocol) {}, ""},
		{"missing bottle", func(p *Protocol) { p.BottleID = "" }, "bottle_id"},
		{"raw token as session", func(p *Protocol) { p.SessionID = "qr_AAAAAAAAAAAAAAAAAAAAAA" }, "session_id"},
		{"unknown status", func(p *Protocol) { p.Status = "archived" }, "status"},
		{"zero total days", func(p *Protocol) { p.TotalDays = 0 }, "total_days"},
		{"negative current day", func(p *Protocol) { p.CurrentDay = -1 }, "current_day"},
		{"current beyond total", func(p *Protocol) { p.CurrentDay = 31 }, "current_day"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newActiveProtocol(30, 0)
			tt.mutate(p)
			err := p.Validate()
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}
