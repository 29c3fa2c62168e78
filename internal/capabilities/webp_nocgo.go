//go:build !cgo

package capabilities

const nativeWebp = false
