// Package blob 提供请求处理过程中的临时内容句柄（TempBlob）。
// 句柄基于 afero 文件系统落盘，创建时带一个引用，Retain/Release 成对使用，
// 引用归零时删除底层文件。写入过程中同步计算大小与 BLAKE3 摘要。
package blob
