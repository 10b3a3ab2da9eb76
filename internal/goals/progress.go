package goals

import (
	"fmt"
	"math"
	"strconv"
)

// Progress is a goal's current standing, ready for display.
type Progress struct {
	GoalID     string     `json:"goal_id"`
	Metric     Metric     `json:"metric"`
	TargetType TargetType `json:"target_type"`
	Target     float64    `json:"target"`
	Value      float64    `json:"value"`
	// Ratio is Value/Target clamped to [0, 1].
	Ratio float64 `json:"ratio"`
	Width string  `json:"width"`
	Label string  `json:"label"`
	Met   bool    `json:"met"`
}

// NewProgress renders value against the goal's target.
func NewProgress(goal Goal, value float64) Progress {
	ratio := 0.0
	if goal.TargetValue > 0 {
		ratio = value / goal.TargetValue
	}
	ratio = math.Max(0, math.Min(1, ratio))
	suffix := ""
	if goal.TargetType == TargetPercent {
		suffix = "%"
	}
	return Progress{
		GoalID:     goal.ID,
		Metric:     goal.Metric,
		TargetType: goal.TargetType,
		Target:     goal.TargetValue,
		Value:      value,
		Ratio:      ratio,
		Width:      formatNumber(ratio*100) + "%",
		Label:      fmt.Sprintf("Target: %s%s · Value: %s%s", formatNumber(goal.TargetValue), suffix, formatNumber(value), suffix),
		Met:        goal.TargetValue > 0 && value >= goal.TargetValue,
	}
}

// formatNumber rounds to one decimal and drops a trailing ".0".
func formatNumber(value float64) string {
	return strconv.FormatFloat(math.Round(value*10)/10, 'f', -1, 64)
}
