package i18n

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// initEnUS will init en_US support.
func initEnUS(tag language.Tag) {
	_ = message.SetString(tag, "Start", "Start")
	_ = message.SetString(tag, "End", "End")
	_ = message.SetString(tag, "Parallel gateway", "Parallel gateway")
	_ = message.SetString(tag, "Converge gateway", "Converge gateway")
	_ = message.SetString(tag, "Create ephemeral credential", "Create ephemeral credential")
	_ = message.SetString(tag, "Drop ephemeral credential", "Drop ephemeral credential")
	_ = message.SetString(tag, "Manual confirmation", "Manual confirmation")
	_ = message.SetString(tag, "CREATED", "Created")
	_ = message.SetString(tag, "RUNNING", "Running")
	_ = message.SetString(tag, "FINISHED", "Succeeded")
	_ = message.SetString(tag, "FAILED", "Failed")
	_ = message.SetString(tag, "SUSPENDED", "Suspended")
	_ = message.SetString(tag, "REVOKED", "Revoked")
	_ = message.SetString(tag, "operation %s failed: %s", "operation %s failed: %s")
	_ = message.SetString(tag, "invalid request: %s", "invalid request: %s")
}

// initZhCN will init zh_CN support.
func initZhCN(tag language.Tag) {
	_ = message.SetString(tag, "Start", "开始")
	_ = message.SetString(tag, "End", "结束")
	_ = message.SetString(tag, "Parallel gateway", "并行网关")
	_ = message.SetString(tag, "Converge gateway", "汇聚网关")
	_ = message.SetString(tag, "Create ephemeral credential", "创建临时账号")
	_ = message.SetString(tag, "Drop ephemeral credential", "删除临时账号")
	_ = message.SetString(tag, "Manual confirmation", "人工确认")
	_ = message.SetString(tag, "CREATED", "已创建")
	_ = message.SetString(tag, "RUNNING", "执行中")
	_ = message.SetString(tag, "FINISHED", "执行成功")
	_ = message.SetString(tag, "FAILED", "执行失败")
	_ = message.SetString(tag, "SUSPENDED", "已暂停")
	_ = message.SetString(tag, "REVOKED", "已终止")
	_ = message.SetString(tag, "operation %s failed: %s", "操作 %s 失败: %s")
	_ = message.SetString(tag, "invalid request: %s", "无效请求: %s")
}
