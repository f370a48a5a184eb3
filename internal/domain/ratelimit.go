package domain

import "time"

// Limit types. Per-rule issuance windows use LimitDailyIssue + ":" + ruleID.
const (
	LimitDailyIssue   = "daily-issue"
	LimitDailyConvert = "daily-convert"
)

// RuleLimitType returns the window key for a rule's own daily cap.
func RuleLimitType(ruleID string) string {
	return LimitDailyIssue + ":" + ruleID
}

// RateLimitWindow tracks consumption for one (user, limit type, day).
type RateLimitWindow struct {
	UserID    int64  `db:"user_id" json:"user_id"`
	LimitType string `db:"limit_type" json:"limit_type"`
	Period    string `db:"period" json:"period"`
	Used      int64  `db:"used" json:"used"`
	Cap       int64  `db:"cap" json:"cap"`
}

// Remaining returns the allowance left in the window.
func (w RateLimitWindow) Remaining() int64 {
	if w.Used >= w.Cap {
		return 0
	}
	return w.Cap - w.Used
}

// DayPeriod returns the UTC calendar day key for t.
func DayPeriod(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
