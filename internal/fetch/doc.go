// Package fetch 是访问上游 p2 仓库的 HTTP 协作方。网络层失败按指数退避重试，
// 仍失败时返回 *NetworkError；HTTP 状态码原样交给调用方，由 CheckStatus 归类。
package fetch
