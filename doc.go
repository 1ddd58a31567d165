// Package workflow 提供树形工作流编排功能。
//
// 工作流是一棵节点树，节点的执行由外部客户端驱动：引擎把节点的动作发给客户端，
// 客户端完成后上报状态，引擎再决定下一个要执行的节点。
//
// 主要特性：
//   - 两个状态轴：client 是客户端可见的进度，server 是引擎内部的执行状态
//   - 状态表校验 + 条件更新：多个 worker 并发时不会覆盖彼此的写入
//   - 事件驱动：所有状态变化都由事件触发，事件可以当场执行或者交给任务队列稍后执行
//   - 执行方式：blocking、non_blocking、fire_and_forget
//   - 任务队列：支持 GORM 和 Redis，至少一次投递
//   - 并发安全：Runner 认领任务时使用本地锁或分布式锁（Redis）
//   - 审计：每一次状态变化都会记录
//
// 基础使用示例:
//
//	package main
//
//	import (
//	    "context"
//
//	    "github.com/blingmoon/tree-workflow/workflow"
//	    "gorm.io/driver/sqlite"
//	    "gorm.io/gorm"
//	)
//
//	func main() {
//	    ctx := context.Background()
//
//	    // 1. 初始化数据库
//	    db, _ := gorm.Open(sqlite.Open("workflow.db"), &gorm.Config{})
//	    db.AutoMigrate(workflow.AllModels()...)
//
//	    // 2. 创建引擎和服务, notifier 负责把节点的动作发给客户端
//	    engine := workflow.NewEngine(workflow.NewWorkflowRepo(db), workflow.NewGormJobQueue(db),
//	        workflow.WithNotifier(notifier),
//	    )
//	    service := workflow.NewWorkflowService(engine)
//
//	    // 3. 创建工作流和第一个 decision 节点
//	    wf, _ := service.CreateWorkflow(ctx, &workflow.CreateWorkflowReq{
//	        Name:    "order_fulfillment",
//	        UserID:  "user-42",
//	        Decider: "OrderDecider",
//	    })
//	    service.AddNode(ctx, &workflow.AddNodeReq{
//	        WorkflowID: wf.ID,
//	        Name:       "decide",
//	        Mode:       workflow.NodeModeBlocking,
//	        LegacyType: workflow.LegacyTypeDecision,
//	    })
//
//	    // 4. 启动, 后台 Runner 执行到期的任务
//	    service.StartWorkflow(ctx, wf.ID)
//	    runner, _ := workflow.NewRunner(engine, workflow.NewLocalWorkflowLock(), workflow.DefaultRunnerConfig())
//	    runner.Start(ctx)
//	}
//
// 客户端收到节点的动作之后：
//
//	// decision 节点可以添加子节点, 父节点完成之后子节点按顺序执行
//	service.AddNode(ctx, &workflow.AddNodeReq{WorkflowID: wf.ID, ParentID: &decisionID, ...})
//
//	// 上报结果
//	service.UpdateClientStatus(ctx, &workflow.UpdateClientStatusReq{
//	    NodeID: nodeID,
//	    Status: workflow.ClientStatusComplete,
//	    Result: map[string]any{"tracking_number": "TRACK-789"},
//	})
//
// 节点的执行规则：
//
// 父节点的子节点按 position 顺序执行。遇到还没完成的 blocking 节点后面的兄弟节点要等待；
// non_blocking 节点不挡住兄弟节点，但父节点要等它完成；fire_and_forget 节点父节点也不等。
// flag 节点不通知客户端，启动后直接完成，设置了 complete_workflow 的 flag 会把整个工作流标记为完成。
// timer 节点在 fires_at 启动。
//
// 失败处理：
//
// 事件执行失败时节点的 server 状态变成 errored，还有重试次数就在 retry_interval 分钟之后重试。
// 非法的状态变化和并发冲突不算业务失败，原样返回给调用方。
package workflow
