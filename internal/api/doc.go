// Package api 提供 kickoff 作业的 REST 接口，同时暴露健康检查与 Prometheus 指标。
package api
