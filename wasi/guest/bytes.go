//go:build wasip1

package guest

import (
	"unsafe"

	"github.com/tomyedwab/guestdb/wasi/abi"
)

// byteHandles keeps host-written buffers reachable until the guest takes them.
var byteHandles = map[uint32][]byte{}
var nextByteHandle uint32 = 1

//go:wasmexport alloc_bytes
func allocBytes(size uint32) uint64 {
	bytes := make([]byte, max(size, 1))
	handle := nextByteHandle
	nextByteHandle++
	byteHandles[handle] = bytes[:size]
	return abi.PackAlloc(handle, uint32(uintptr(unsafe.Pointer(&bytes[0]))))
}

//go:wasmexport free_bytes
func freeBytes(handle uint32) {
	delete(byteHandles, handle)
}

// takeBytes returns the buffer behind handle and forgets it.
func takeBytes(handle uint32) []byte {
	b := byteHandles[handle]
	delete(byteHandles, handle)
	return b
}
