// Package config 提供 Tensorgate 的配置管理功能。
//
// 包含配置结构、默认值和加载器：依次合并默认值、YAML 文件和环境变量，
// 再执行校验。配置只在启动时加载一次；不支持热重载、配置 API、
// 变更历史或命令行参数。
package config
