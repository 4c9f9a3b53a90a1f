// Package config 提供 AvatarFlow 的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → AVATARFLOW_* 环境变量 的顺序加载，
// Validate 汇总所有问题一次性返回。Reloader 监听配置文件，
// 在运行期重新加载可热更新的字段（日志级别、系统提示词）。
package config
