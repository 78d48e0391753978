package models

import "testing"

func TestOperatorLaws(t *testing.T) {
	values := []float64{-10, 0, 0.5, 42, 50, 100}
	for _, v := range values {
		for _, thr := range values {
			lt := OpLT.Compare(v, thr)
			lte := OpLTE.Compare(v, thr)
			gt := OpGT.Compare(v, thr)
			gte := OpGTE.Compare(v, thr)
			eq := OpEQ.Compare(v, thr)
			if lt == gte {
				t.Fatalf("lt 与 gte 应互斥: v=%v thr=%v", v, thr)
			}
			if gt == lte {
				t.Fatalf("gt 与 lte 应互斥: v=%v thr=%v", v, thr)
			}
			if lte != (lt || eq) {
				t.Fatalf("lte 应等于 lt 或 eq: v=%v thr=%v", v, thr)
			}
			if gte != (gt || eq) {
				t.Fatalf("gte 应等于 gt 或 eq: v=%v thr=%v", v, thr)
			}
		}
	}
	if Operator("between").Compare(1, 1) {
		t.Fatal("未知运算符不应成立")
	}
}

func TestParseEnums(t *testing.T) {
	if _, err := ParseAlertType(" FWI_Department_Low "); err != nil {
		t.Fatalf("告警类型应可解析: %v", err)
	}
	if _, err := ParseAlertType("cpu_high"); err == nil {
		t.Fatal("未知告警类型应报错")
	}
	if op, err := ParseOperator("GTE"); err != nil || op != OpGTE {
		t.Fatalf("运算符解析异常: op=%s err=%v", op, err)
	}
	if _, err := ParseOperator("ne"); err == nil {
		t.Fatal("未知运算符应报错")
	}
	for _, at := range AllAlertTypes() {
		if !at.Valid() {
			t.Fatalf("枚举值应合法: %s", at)
		}
	}
	if SeverityCritical.Rank() <= SeverityWarning.Rank() || SeverityWarning.Rank() <= SeverityInfo.Rank() {
		t.Fatal("严重级别排序异常")
	}
}

func TestAlertRuleValidate(t *testing.T) {
	base := func() AlertRule {
		return AlertRule{
			Name:      "FWI bajo",
			AlertType: AlertFWIDepartmentLow,
			Threshold: 50,
			Operator:  OpLT,
		}
	}
	tests := []struct {
		name    string
		mutate  func(r *AlertRule)
		wantErr bool
	}{
		{name: "valid", mutate: func(r *AlertRule) {}},
		{name: "empty name", mutate: func(r *AlertRule) { r.Name = " " }, wantErr: true},
		{name: "bad type", mutate: func(r *AlertRule) { r.AlertType = "x" }, wantErr: true},
		{name: "bad operator", mutate: func(r *AlertRule) { r.Operator = "ne" }, wantErr: true},
		{name: "negative cooldown", mutate: func(r *AlertRule) { r.CooldownMinutes = -1 }, wantErr: true},
		{name: "score above range", mutate: func(r *AlertRule) { r.Threshold = 101 }, wantErr: true},
		{name: "percentage in range", mutate: func(r *AlertRule) {
			r.AlertType = AlertHighRiskPercent
			r.Threshold = 100
		}},
		{name: "percentage negative", mutate: func(r *AlertRule) {
			r.AlertType = AlertHighRiskPercent
			r.Threshold = -1
		}, wantErr: true},
		{name: "trend negative allowed", mutate: func(r *AlertRule) {
			r.AlertType = AlertFWITrendNegative
			r.Threshold = -5
		}},
		{name: "currency negative", mutate: func(r *AlertRule) {
			r.AlertType = AlertEWAPendingAmount
			r.Threshold = -0.01
		}, wantErr: true},
		{name: "count large", mutate: func(r *AlertRule) {
			r.AlertType = AlertEWAPendingCount
			r.Threshold = 1000
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := base()
			tt.mutate(&r)
			err := r.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() err=%v wantErr=%v", err, tt.wantErr)
			}
		})
	}
}

func TestPlatformDefaultsMerge(t *testing.T) {
	base := DefaultPlatformDefaults()
	merged := base.Merge(PlatformDefaults{FWIWarning: Float(55), NotifyOnInfo: Bool(false)})
	if *merged.FWIWarning != 55 || *merged.NotifyOnInfo {
		t.Fatalf("覆盖字段未生效: %+v", merged)
	}
	if *merged.FWICritical != 40 || !*merged.NotifyOnCritical {
		t.Fatalf("未覆盖字段应保持默认: %+v", merged)
	}
	if *base.FWIWarning != 50 {
		t.Fatal("Merge 不应修改原值")
	}
}
