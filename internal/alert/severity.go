package alert

import (
	"math"

	"wellness-alert/internal/models"
)

// 分数与风险类告警偏离较小即需关注 数量与金额类容忍度更高
const (
	scoreCriticalPct = 30
	scoreWarningPct  = 15
	countCriticalPct = 50
	countWarningPct  = 25
)

// PercentDiff 返回当前值相对阈值的偏离百分比
// 阈值为 0 时 当前值也为 0 记为 0 否则记为 100
func PercentDiff(current, threshold float64) float64 {
	if threshold == 0 {
		if current == 0 {
			return 0
		}
		return 100
	}
	return math.Abs(current-threshold) / math.Abs(threshold) * 100
}

// ClassifySeverity 根据偏离幅度与告警类型族确定严重级别
func ClassifySeverity(alertType models.AlertType, current, threshold float64) models.Severity {
	diff := PercentDiff(current, threshold)
	critical, warning := bandsFor(alertType)
	switch {
	case diff > critical:
		return models.SeverityCritical
	case diff > warning:
		return models.SeverityWarning
	default:
		return models.SeverityInfo
	}
}

func bandsFor(alertType models.AlertType) (critical, warning float64) {
	switch alertType {
	case models.AlertEWAPendingCount, models.AlertEWAPendingAmount, models.AlertEWAUserExcessive:
		return countCriticalPct, countWarningPct
	case models.AlertFWIDepartmentLow, models.AlertFWIIndividualLow, models.AlertFWITrendNegative,
		models.AlertHighRiskPercent, models.AlertNewHighRiskUser, models.AlertWeeklyRiskSummary:
		return scoreCriticalPct, scoreWarningPct
	default:
		return scoreCriticalPct, scoreWarningPct
	}
}
