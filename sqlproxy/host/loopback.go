package host

import (
	"context"

	"github.com/tomyedwab/guestdb/sqlproxy/types"
)

// Loopback is an in-process transport for guest code running in the host's own
// address space, as tests and the host's system migrations do.
type Loopback struct {
	Host *SQLHost
	Ctx  context.Context
}

func (l Loopback) ctx() context.Context {
	if l.Ctx == nil {
		return context.Background()
	}
	return l.Ctx
}

func (l Loopback) Connect(url string) ([]byte, error) {
	return l.Host.HandleConnect(l.ctx(), url)
}

func (l Loopback) Query(h types.Handle, query []byte) ([]byte, error) {
	return l.Host.HandleQuery(l.ctx(), h, query)
}

func (l Loopback) Execute(h types.Handle, query []byte) ([]byte, error) {
	return l.Host.HandleExecute(l.ctx(), h, query)
}

func (l Loopback) BatchExecute(h types.Handle, sql string) ([]byte, error) {
	return l.Host.HandleBatchExecute(l.ctx(), h, sql)
}

func (l Loopback) Close(h types.Handle) ([]byte, error) {
	return l.Host.HandleClose(l.ctx(), h)
}
