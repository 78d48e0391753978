// 本文件用于生成告警文案 包括邮件 推送与 webhook 消息
package alert

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"wellness-alert/internal/models"
)

const (
	unknownScope = "desconocido"
	orgScope     = "la organización"
	alertsURL    = "/admin/alerts"
)

// MessageInput 表示生成告警文案所需的数据
type MessageInput struct {
	AlertType    models.AlertType
	CurrentValue float64
	Threshold    float64
	ScopeName    string
	// 规则未限定部门时为 true 空范围名使用组织的泛称
	OrgWide bool
}

// ComposeMessage 按告警类型的固定模板生成正文
func ComposeMessage(in MessageInput) string {
	scope := strings.TrimSpace(in.ScopeName)
	if scope == "" {
		scope = unknownScope
		if in.OrgWide {
			scope = orgScope
		}
	}
	cur := FormatValue(in.AlertType, in.CurrentValue)
	thr := FormatValue(in.AlertType, in.Threshold)

	switch in.AlertType {
	case models.AlertFWIDepartmentLow:
		return fmt.Sprintf("El FWI promedio de %s bajó a %s, por debajo del umbral de %s.", scope, cur, thr)
	case models.AlertFWIIndividualLow:
		return fmt.Sprintf("Un colaborador de %s tiene un FWI de %s, por debajo del umbral de %s.", scope, cur, thr)
	case models.AlertFWITrendNegative:
		return fmt.Sprintf("El FWI promedio de %s varió %s puntos en la última semana (umbral: %s).", scope, cur, thr)
	case models.AlertEWAPendingCount:
		return fmt.Sprintf("Hay %s solicitudes de adelanto salarial pendientes en %s (máximo permitido: %s).", cur, scope, thr)
	case models.AlertEWAPendingAmount:
		return fmt.Sprintf("El monto pendiente de adelantos salariales en %s es %s (máximo permitido: %s).", scope, cur, thr)
	case models.AlertEWAUserExcessive:
		return fmt.Sprintf("Un colaborador de %s registra %s solicitudes de adelanto en 30 días (máximo permitido: %s).", scope, cur, thr)
	case models.AlertHighRiskPercent:
		return fmt.Sprintf("El %s%% de los colaboradores de %s está en riesgo financiero alto (umbral: %s%%).", cur, scope, thr)
	case models.AlertNewHighRiskUser:
		return fmt.Sprintf("%s colaboradores de %s entraron en riesgo financiero alto esta semana (umbral: %s).", cur, scope, thr)
	case models.AlertWeeklyRiskSummary:
		return fmt.Sprintf("Resumen semanal: %s colaboradores de %s en riesgo financiero alto (umbral: %s).", cur, scope, thr)
	default:
		return fmt.Sprintf("Alerta en %s: valor actual %s, umbral %s.", scope, cur, thr)
	}
}

// AlertTitle 返回告警类型的标题
func AlertTitle(alertType models.AlertType) string {
	switch alertType {
	case models.AlertFWIDepartmentLow:
		return "FWI bajo en departamento"
	case models.AlertFWIIndividualLow:
		return "FWI individual bajo"
	case models.AlertFWITrendNegative:
		return "Tendencia negativa de FWI"
	case models.AlertEWAPendingCount:
		return "Adelantos pendientes"
	case models.AlertEWAPendingAmount:
		return "Monto de adelantos pendiente"
	case models.AlertEWAUserExcessive:
		return "Uso excesivo de adelantos"
	case models.AlertHighRiskPercent:
		return "Porcentaje de riesgo alto"
	case models.AlertNewHighRiskUser:
		return "Nuevos colaboradores en riesgo"
	case models.AlertWeeklyRiskSummary:
		return "Resumen semanal de riesgo"
	default:
		return "Alerta"
	}
}

// SeverityLabel 返回严重级别的展示文案
func SeverityLabel(sev models.Severity) string {
	switch sev {
	case models.SeverityCritical:
		return "CRÍTICA"
	case models.SeverityWarning:
		return "ADVERTENCIA"
	case models.SeverityInfo:
		return "INFORMATIVA"
	default:
		return strings.ToUpper(string(sev))
	}
}

// SeverityColor 返回 webhook 附件颜色
func SeverityColor(sev models.Severity) string {
	switch sev {
	case models.SeverityCritical:
		return "#D32F2F"
	case models.SeverityWarning:
		return "#F9A825"
	default:
		return "#1976D2"
	}
}

// FormatValue 按告警类型的量纲格式化数值
func FormatValue(alertType models.AlertType, v float64) string {
	switch alertType.Unit() {
	case models.UnitCurrency:
		return formatCurrency(v)
	case models.UnitCount:
		return strconv.FormatInt(int64(math.Round(v)), 10)
	default:
		return strconv.FormatFloat(math.Round(v*10)/10, 'f', -1, 64)
	}
}

// formatCurrency 保留两位小数并添加千分位
func formatCurrency(v float64) string {
	fixed := decimal.NewFromFloat(v).Round(2).Abs().StringFixed(2)
	intPart, frac, _ := strings.Cut(fixed, ".")
	var b strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	sign := ""
	if v < 0 && fixed != "0.00" {
		sign = "-"
	}
	return sign + "$" + b.String() + "." + frac
}

// EmailSubject 生成邮件主题
func EmailSubject(ev *models.AlertEvent) string {
	return fmt.Sprintf("[Alerta %s] %s", SeverityLabel(ev.Severity), AlertTitle(ev.AlertType))
}

// EmailBody 生成邮件正文
func EmailBody(ev *models.AlertEvent, rule *models.AlertRule) string {
	var b strings.Builder
	b.WriteString(ev.Message)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Regla: %s\n", rule.Name)
	fmt.Fprintf(&b, "Severidad: %s\n", SeverityLabel(ev.Severity))
	fmt.Fprintf(&b, "Valor actual: %s\n", FormatValue(ev.AlertType, ev.CurrentValue))
	fmt.Fprintf(&b, "Umbral: %s\n", FormatValue(ev.AlertType, ev.Threshold))
	if ev.PreviousValue != nil {
		fmt.Fprintf(&b, "Valor anterior: %s\n", FormatValue(ev.AlertType, *ev.PreviousValue))
	}
	fmt.Fprintf(&b, "Fecha: %s\n", ev.CreatedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "\nRevise la alerta #%d en el panel de administración.\n", ev.ID)
	return b.String()
}

// BuildPushPayload 生成推送负载 严重告警需要用户交互才会消失
func BuildPushPayload(ev *models.AlertEvent) models.PushPayload {
	return models.PushPayload{
		Title:              fmt.Sprintf("%s: %s", SeverityLabel(ev.Severity), AlertTitle(ev.AlertType)),
		Body:               ev.Message,
		Tag:                fmt.Sprintf("alert-%d", ev.RuleID),
		URL:                alertsURL,
		Severity:           ev.Severity,
		AlertEventID:       ev.ID,
		RequireInteraction: ev.Severity == models.SeverityCritical,
	}
}

// BuildWebhookMessage 生成聊天机器人消息
func BuildWebhookMessage(ev *models.AlertEvent, rule *models.AlertRule) models.WebhookMessage {
	return models.WebhookMessage{
		Text: fmt.Sprintf("[%s] %s", SeverityLabel(ev.Severity), AlertTitle(ev.AlertType)),
		Attachments: []models.WebhookAttachment{
			{
				Color: SeverityColor(ev.Severity),
				Title: rule.Name,
				Text:  ev.Message,
				Fields: []models.WebhookField{
					{Title: "Valor actual", Value: FormatValue(ev.AlertType, ev.CurrentValue), Short: true},
					{Title: "Umbral", Value: FormatValue(ev.AlertType, ev.Threshold), Short: true},
					{Title: "Severidad", Value: SeverityLabel(ev.Severity), Short: true},
				},
				Footer: fmt.Sprintf("Alerta #%d", ev.ID),
				Ts:     ev.CreatedAt.Unix(),
			},
		},
	}
}

// OwnerContent 生成系统负责人通知内容
func OwnerContent(ev *models.AlertEvent, rule *models.AlertRule) (string, string) {
	title := fmt.Sprintf("Alerta crítica: %s", AlertTitle(ev.AlertType))
	content := fmt.Sprintf("%s\nRegla: %s (#%d)\nAlerta: #%d", ev.Message, rule.Name, rule.ID, ev.ID)
	return title, content
}
