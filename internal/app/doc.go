// Package app 按配置装配团队执行引擎，供 crewd 与 crew 两个命令复用。
package app
