package alert

import (
	"context"
	"sort"

	"github.com/samber/lo"

	"wellness-alert/internal/logger"
	"wellness-alert/internal/models"
)

// RecipientResolver 根据规则的通知对象标记解析收件用户
type RecipientResolver struct {
	dir Directory
}

// NewRecipientResolver 创建收件人解析器
func NewRecipientResolver(dir Directory) *RecipientResolver {
	return &RecipientResolver{dir: dir}
}

// Resolve 返回按用户 id 排序且去重的收件人
// 读取失败时返回空列表
func (r *RecipientResolver) Resolve(ctx context.Context, rule *models.AlertRule, scope ScopeContext) []models.User {
	if r == nil || r.dir == nil || rule == nil {
		return []models.User{}
	}
	var users []models.User
	if rule.NotifyAdmins {
		admins, err := r.dir.UsersByRole(ctx, models.RoleAdmin)
		if err != nil {
			logger.Warn("读取管理员失败: rule=%d err=%v", rule.ID, err)
			return []models.User{}
		}
		users = append(users, admins...)
	}
	if rule.NotifyDepartmentAdmins && scope.DepartmentID != nil {
		deptAdmins, err := r.dir.UsersByRole(ctx, models.RoleDepartmentAdmin)
		if err != nil {
			logger.Warn("读取部门管理员失败: rule=%d err=%v", rule.ID, err)
			return []models.User{}
		}
		users = append(users, deptAdmins...)
	}
	out := lo.UniqBy(users, func(u models.User) int64 { return u.ID })
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// userIDs 提取收件人 id
func userIDs(users []models.User) []int64 {
	return lo.Map(users, func(u models.User, _ int) int64 { return u.ID })
}
