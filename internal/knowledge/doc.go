// Package knowledge 提供可选的静态知识库，在任务执行前为智能体补充参考片段。
package knowledge
