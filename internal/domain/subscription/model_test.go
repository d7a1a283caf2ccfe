package subscription

import (
	"testing"
	"time"

	"github.com/kangjhooe/xclass-sub019/internal/types"
)

func TestPendingIncrease(t *testing.T) {
	tests := []struct {
		name         string
		baseline     int
		currentCount int
		want         int
	}{
		{name: "growth since baseline", baseline: 100, currentCount: 111, want: 11},
		{name: "no change", baseline: 100, currentCount: 100, want: 0},
		{name: "withdrawals clamp to zero", baseline: 100, currentCount: 90, want: 0},
		{name: "fresh subscription", baseline: 0, currentCount: 25, want: 25},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := &Subscription{StudentCountAtBaseline: tt.baseline}
			if got := sub.PendingIncrease(tt.currentCount); got != tt.want {
				t.Errorf("PendingIncrease(%d) = %d, want %d", tt.currentCount, got, tt.want)
			}
		})
	}
}

func TestThresholdProgress(t *testing.T) {
	tests := []struct {
		name          string
		baseline      int
		threshold     int
		currentCount  int
		wantMet       bool
		wantRemaining int
	}{
		{name: "below threshold", baseline: 100, threshold: 10, currentCount: 105, wantMet: false, wantRemaining: 5},
		{name: "exactly at threshold", baseline: 100, threshold: 10, currentCount: 110, wantMet: true, wantRemaining: 0},
		{name: "past threshold", baseline: 100, threshold: 10, currentCount: 111, wantMet: true, wantRemaining: 0},
		{name: "shrinking roster resets progress", baseline: 100, threshold: 10, currentCount: 95, wantMet: false, wantRemaining: 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := &Subscription{StudentCountAtBaseline: tt.baseline}
			if got := sub.ThresholdMet(tt.threshold, tt.currentCount); got != tt.wantMet {
				t.Errorf("ThresholdMet(%d, %d) = %v, want %v", tt.threshold, tt.currentCount, got, tt.wantMet)
			}
			if got := sub.RemainingToThreshold(tt.threshold, tt.currentCount); got != tt.wantRemaining {
				t.Errorf("RemainingToThreshold(%d, %d) = %d, want %d", tt.threshold, tt.currentCount, got, tt.wantRemaining)
			}
		})
	}
}

func TestTrialWindow(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	trialStart := now.AddDate(0, 0, -30)

	tests := []struct {
		name       string
		trialEnd   time.Time
		graceDays  int
		wantInside bool
		wantDue    bool
	}{
		{name: "mid trial", trialEnd: now.AddDate(0, 0, 10), graceDays: 0, wantInside: true, wantDue: false},
		{name: "trial lapsed", trialEnd: now.AddDate(0, 0, -1), graceDays: 0, wantInside: false, wantDue: true},
		{name: "lapsed but inside grace", trialEnd: now.AddDate(0, 0, -1), graceDays: 3, wantInside: true, wantDue: false},
		{name: "grace exhausted", trialEnd: now.AddDate(0, 0, -4), graceDays: 3, wantInside: false, wantDue: true},
		{name: "ends exactly now", trialEnd: now, graceDays: 0, wantInside: false, wantDue: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trialEnd := tt.trialEnd
			sub := &Subscription{
				SubscriptionStatus: types.SubscriptionStatusTrialing,
				IsTrial:            true,
				TrialStart:         &trialStart,
				TrialEnd:           &trialEnd,
			}
			if got := sub.InTrialPeriod(now, tt.graceDays); got != tt.wantInside {
				t.Errorf("InTrialPeriod = %v, want %v", got, tt.wantInside)
			}
			if got := sub.TrialDue(now, tt.graceDays); got != tt.wantDue {
				t.Errorf("TrialDue = %v, want %v", got, tt.wantDue)
			}
		})
	}
}

func TestTrialHelpersWithoutTrial(t *testing.T) {
	now := time.Now().UTC()
	sub := &Subscription{SubscriptionStatus: types.SubscriptionStatusActive}

	if sub.InTrialPeriod(now, 5) {
		t.Error("subscription without trial reported as in trial period")
	}
	if sub.TrialDue(now, 5) {
		t.Error("subscription without trial reported as trial due")
	}
	if !sub.EffectiveTrialEnd(5).IsZero() {
		t.Error("EffectiveTrialEnd should be zero without trial dates")
	}
}

func TestActivateFromTrial(t *testing.T) {
	trialStart := time.Now().UTC().AddDate(0, 0, -30)
	trialEnd := time.Now().UTC()

	sub := &Subscription{
		SubscriptionStatus: types.SubscriptionStatusTrialing,
		IsTrial:            true,
		TrialStart:         &trialStart,
		TrialEnd:           &trialEnd,
	}

	if err := sub.ActivateFromTrial(); err != nil {
		t.Fatalf("ActivateFromTrial failed: %v", err)
	}
	if sub.IsTrial || sub.SubscriptionStatus != types.SubscriptionStatusActive {
		t.Errorf("activation left subscription in %s, is_trial %v", sub.SubscriptionStatus, sub.IsTrial)
	}

	// only valid once
	if err := sub.ActivateFromTrial(); err == nil {
		t.Error("second activation should fail")
	}
}

func TestAdvanceCycle(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)

	sub := &Subscription{
		SubscriptionStatus: types.SubscriptionStatusActive,
		BillingCycle:       types.BillingCycleAnnual,
		StartDate:          start,
		EndDate:            end,
		NextBillingDate:    end,
	}

	sub.AdvanceCycle()

	if !sub.StartDate.Equal(end) {
		t.Errorf("StartDate = %v, want %v", sub.StartDate, end)
	}
	wantEnd := time.Date(2028, 1, 1, 0, 0, 0, 0, time.UTC)
	if !sub.EndDate.Equal(wantEnd) {
		t.Errorf("EndDate = %v, want %v", sub.EndDate, wantEnd)
	}
	if !sub.NextBillingDate.Equal(wantEnd) {
		t.Errorf("NextBillingDate = %v, want %v", sub.NextBillingDate, wantEnd)
	}
}
