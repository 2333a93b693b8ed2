// Package crew 实现角色扮演型智能体团队的顺序编排：
// 定义加载与校验、输入占位符填充、基于工具调用的单任务推理循环，
// 以及前序任务输出作为上下文的串联执行。
package crew
