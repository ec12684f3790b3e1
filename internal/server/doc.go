// Package server hosts the Fiber HTTP service, request middleware chain, and
// hub registry glue that maps an incoming request onto a configured p2
// repository. A repository is addressed either by its Domain (Host header) or
// by the path prefix /repository/{name}/, which is also the form used for the
// child locations emitted by composite flattening.
package server
