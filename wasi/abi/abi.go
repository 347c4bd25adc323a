// Package abi fixes the calling convention shared by the guest imports and the
// host module.
//
// Every sql_* import writes its response into guest memory it obtains through
// the guest's alloc_bytes export, stores the byte handle at destPtr and returns
// the response length. A negative return means the call itself failed; the
// handle then holds an error message of length -ret.
package abi

const (
	Module = "env"

	FnConnect      = "sql_connect"
	FnQuery        = "sql_query"
	FnExecute      = "sql_execute"
	FnBatchExecute = "sql_batch_execute"
	FnClose        = "sql_close"
	FnClockNow     = "clock_now"

	ExportAllocBytes = "alloc_bytes"
	ExportFreeBytes  = "free_bytes"
)

// PackAlloc combines a byte handle and its address into alloc_bytes' result.
func PackAlloc(handle, ptr uint32) uint64 { return uint64(handle)<<32 | uint64(ptr) }

// UnpackAlloc splits alloc_bytes' result.
func UnpackAlloc(v uint64) (handle, ptr uint32) { return uint32(v >> 32), uint32(v) }

// Result encodes a response length as an import's return value, negated for
// failures.
func Result(n int, failed bool) int32 {
	if failed {
		return -int32(n)
	}
	return int32(n)
}
