// Package job 实现异步 kickoff：作业的持久化（内存、MySQL）、
// 投递（内存、Redis、RabbitMQ）、带重试与告警的消费处理。
package job
