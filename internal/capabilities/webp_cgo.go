//go:build cgo

package capabilities

// nativeWebp reports whether this binary links libwebp.
const nativeWebp = true
