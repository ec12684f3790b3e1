// Package p2 实现 Eclipse p2 仓库的元数据核心：路径分类、组件属性提取，
// 以及 artifacts/content/composite 元数据的流式改写。
//
// 包内不直接访问存储或 HTTP 服务端，所需的远端访问通过 fetch.Fetcher 注入，
// 临时内容统一使用 blob.TempBlob 承载，调用方负责在每条退出路径上 Release。
package p2
