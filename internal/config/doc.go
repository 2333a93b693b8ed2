// Package config 负责加载 YAML 配置文件，展开其中的 ${VAR} 引用，
// 并允许通过环境变量覆盖模型、密钥与监听地址。
package config
