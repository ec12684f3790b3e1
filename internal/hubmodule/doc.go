// Package hubmodule 聚合仓库类型模块的元数据，并提供统一的注册入口。
//
// 模块作者需要：
//  1. 在 internal/hubmodule/<module-key>/ 目录下描述模块的缓存策略；
//  2. 通过本包暴露的 Register 函数在 init() 中注册模块元数据；
//  3. 在 internal/proxy/hooks 中注册路径、缓存策略与 Content-Type 钩子。
//
// 该包同时负责提供模块发现与可观测信息的对外查询能力。
package hubmodule
