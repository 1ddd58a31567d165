// Package tests 是 tree-workflow 的端到端测试模块。
//
// ⚠️ 此包位于 internal/ 目录下，外部项目无法导入。
//
// 📋 测试内容
//
// 只通过 workflow 包导出的 API 驱动引擎，模拟外部客户端：
//   - decision 节点在执行过程中添加子节点，然后上报完成
//   - flag 节点完成整个工作流
//   - 客户端上报错误后按重试次数重试
//   - 多个 Runner 共享同一个库时每个任务只执行一次
//
// 🚀 运行测试
//
// 在项目根目录：
//
//	go test ./internal/tests/...
//
// 查看覆盖率：
//
//	go test -coverprofile=coverage.out -coverpkg=github.com/blingmoon/tree-workflow/workflow ./...
//	go tool cover -html=coverage.out
package tests
