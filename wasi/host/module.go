// Package host exports the database boundary to WebAssembly guests as a wazero
// host module.
package host

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-pkgz/lgr"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	sqlhost "github.com/tomyedwab/guestdb/sqlproxy/host"
	"github.com/tomyedwab/guestdb/sqlproxy/types"
	"github.com/tomyedwab/guestdb/wasi/abi"
)

// Options configures Exports.
type Options struct {
	Logger lgr.L
	// Now backs the clock_now import; defaults to time.Now.
	Now func() time.Time
}

// Exports implements the guest's env imports on top of an SQLHost.
type Exports struct {
	sql *sqlhost.SQLHost
	log lgr.L
	now func() time.Time
}

func NewExports(sql *sqlhost.SQLHost, opts Options) *Exports {
	if opts.Logger == nil {
		opts.Logger = lgr.Std
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Exports{sql: sql, log: opts.Logger, now: opts.Now}
}

// Instantiate registers the env module on r. It must run before any guest that
// imports it is instantiated.
func (e *Exports) Instantiate(ctx context.Context, r wazero.Runtime) (api.Module, error) {
	return r.NewHostModuleBuilder(abi.Module).
		NewFunctionBuilder().WithFunc(e.sqlConnect).Export(abi.FnConnect).
		NewFunctionBuilder().WithFunc(e.sqlQuery).Export(abi.FnQuery).
		NewFunctionBuilder().WithFunc(e.sqlExecute).Export(abi.FnExecute).
		NewFunctionBuilder().WithFunc(e.sqlBatchExecute).Export(abi.FnBatchExecute).
		NewFunctionBuilder().WithFunc(e.sqlClose).Export(abi.FnClose).
		NewFunctionBuilder().WithFunc(e.clockNow).Export(abi.FnClockNow).
		Instantiate(ctx)
}

// guestMemory is the part of a guest module the exports touch.
type guestMemory interface {
	Read(ptr, size uint32) ([]byte, bool)
	Write(ptr uint32, data []byte) bool
	WriteUint32Le(ptr, v uint32) bool
	Alloc(ctx context.Context, size uint32) (handle, ptr uint32, err error)
	Free(ctx context.Context, handle uint32) error
}

type moduleMemory struct {
	m api.Module
}

func (g moduleMemory) Read(ptr, size uint32) ([]byte, bool) {
	buf, ok := g.m.Memory().Read(ptr, size)
	if !ok {
		return nil, false
	}
	return bytes.Clone(buf), true
}

func (g moduleMemory) Write(ptr uint32, data []byte) bool { return g.m.Memory().Write(ptr, data) }

func (g moduleMemory) WriteUint32Le(ptr, v uint32) bool { return g.m.Memory().WriteUint32Le(ptr, v) }

func (g moduleMemory) Alloc(ctx context.Context, size uint32) (uint32, uint32, error) {
	alloc := g.m.ExportedFunction(abi.ExportAllocBytes)
	if alloc == nil {
		return 0, 0, errors.New("guest does not export " + abi.ExportAllocBytes)
	}
	results, err := alloc.Call(ctx, uint64(size))
	if err != nil {
		return 0, 0, err
	}
	if len(results) != 1 {
		return 0, 0, fmt.Errorf("%s returned %d results, expected 1", abi.ExportAllocBytes, len(results))
	}
	handle, ptr := abi.UnpackAlloc(results[0])
	return handle, ptr, nil
}

func (g moduleMemory) Free(ctx context.Context, handle uint32) error {
	free := g.m.ExportedFunction(abi.ExportFreeBytes)
	if free == nil {
		return errors.New("guest does not export " + abi.ExportFreeBytes)
	}
	_, err := free.Call(ctx, uint64(handle))
	return err
}

func (e *Exports) sqlConnect(ctx context.Context, m api.Module, urlPtr, urlLen, destPtr uint32) int32 {
	return e.connect(ctx, moduleMemory{m}, urlPtr, urlLen, destPtr)
}

func (e *Exports) sqlQuery(ctx context.Context, m api.Module, handle int32, qPtr, qLen, destPtr uint32) int32 {
	return e.query(ctx, moduleMemory{m}, types.Handle(handle), qPtr, qLen, destPtr)
}

func (e *Exports) sqlExecute(ctx context.Context, m api.Module, handle int32, qPtr, qLen, destPtr uint32) int32 {
	return e.execute(ctx, moduleMemory{m}, types.Handle(handle), qPtr, qLen, destPtr)
}

func (e *Exports) sqlBatchExecute(ctx context.Context, m api.Module, handle int32, sqlPtr, sqlLen, destPtr uint32) int32 {
	return e.batchExecute(ctx, moduleMemory{m}, types.Handle(handle), sqlPtr, sqlLen, destPtr)
}

func (e *Exports) sqlClose(ctx context.Context, m api.Module, handle int32, destPtr uint32) int32 {
	return e.close(ctx, moduleMemory{m}, types.Handle(handle), destPtr)
}

func (e *Exports) clockNow(context.Context) int64 { return e.now().UnixNano() }

func (e *Exports) connect(ctx context.Context, g guestMemory, urlPtr, urlLen, destPtr uint32) int32 {
	url, ok := g.Read(urlPtr, urlLen)
	if !ok {
		return e.fail(ctx, g, destPtr, fmt.Errorf("connect: url at %d+%d is out of range", urlPtr, urlLen))
	}
	resp, err := e.sql.HandleConnect(ctx, string(url))
	return e.reply(ctx, g, destPtr, resp, err)
}

func (e *Exports) query(ctx context.Context, g guestMemory, h types.Handle, qPtr, qLen, destPtr uint32) int32 {
	q, ok := g.Read(qPtr, qLen)
	if !ok {
		return e.fail(ctx, g, destPtr, fmt.Errorf("query: payload at %d+%d is out of range", qPtr, qLen))
	}
	resp, err := e.sql.HandleQuery(ctx, h, q)
	return e.reply(ctx, g, destPtr, resp, err)
}

func (e *Exports) execute(ctx context.Context, g guestMemory, h types.Handle, qPtr, qLen, destPtr uint32) int32 {
	q, ok := g.Read(qPtr, qLen)
	if !ok {
		return e.fail(ctx, g, destPtr, fmt.Errorf("execute: payload at %d+%d is out of range", qPtr, qLen))
	}
	resp, err := e.sql.HandleExecute(ctx, h, q)
	return e.reply(ctx, g, destPtr, resp, err)
}

func (e *Exports) batchExecute(ctx context.Context, g guestMemory, h types.Handle, sqlPtr, sqlLen, destPtr uint32) int32 {
	sql, ok := g.Read(sqlPtr, sqlLen)
	if !ok {
		return e.fail(ctx, g, destPtr, fmt.Errorf("batch execute: sql at %d+%d is out of range", sqlPtr, sqlLen))
	}
	resp, err := e.sql.HandleBatchExecute(ctx, h, string(sql))
	return e.reply(ctx, g, destPtr, resp, err)
}

func (e *Exports) close(ctx context.Context, g guestMemory, h types.Handle, destPtr uint32) int32 {
	resp, err := e.sql.HandleClose(ctx, h)
	return e.reply(ctx, g, destPtr, resp, err)
}

func (e *Exports) reply(ctx context.Context, g guestMemory, destPtr uint32, resp []byte, err error) int32 {
	if err != nil {
		return e.fail(ctx, g, destPtr, err)
	}
	if werr := e.write(ctx, g, destPtr, resp); werr != nil {
		e.log.Logf("[WARN] failed to write response to guest: %v", werr)
		return -1
	}
	return abi.Result(len(resp), false)
}

func (e *Exports) fail(ctx context.Context, g guestMemory, destPtr uint32, err error) int32 {
	e.log.Logf("[WARN] guest database call failed: %v", err)
	msg := []byte(err.Error())
	if werr := e.write(ctx, g, destPtr, msg); werr != nil {
		e.log.Logf("[WARN] failed to write error to guest: %v", werr)
		return -1
	}
	return abi.Result(len(msg), true)
}

func (e *Exports) write(ctx context.Context, g guestMemory, destPtr uint32, data []byte) error {
	handle, ptr, err := g.Alloc(ctx, uint32(len(data)))
	if err != nil {
		return err
	}
	// the guest only learns the handle through destPtr, so release it on failure
	release := func(err error) error {
		if ferr := g.Free(ctx, handle); ferr != nil {
			e.log.Logf("[WARN] failed to free guest buffer %d: %v", handle, ferr)
		}
		return err
	}
	if len(data) > 0 && !g.Write(ptr, data) {
		return release(fmt.Errorf("write of %d bytes at %d is out of range", len(data), ptr))
	}
	if !g.WriteUint32Le(destPtr, handle) {
		return release(fmt.Errorf("destination pointer %d is out of range", destPtr))
	}
	return nil
}
