//go:build wasip1

// Package guest is the WebAssembly side of the database boundary: the host
// imports behind driver.Transport and the memory exports the host writes
// responses through.
package guest

import (
	"errors"

	"github.com/tomyedwab/guestdb/sqlproxy/driver"
	"github.com/tomyedwab/guestdb/sqlproxy/types"
)

//go:wasmimport env sql_connect
func sql_connect(url string, destPtr *uint32) int32

//go:wasmimport env sql_query
func sql_query(handle int32, query string, destPtr *uint32) int32

//go:wasmimport env sql_execute
func sql_execute(handle int32, query string, destPtr *uint32) int32

//go:wasmimport env sql_batch_execute
func sql_batch_execute(handle int32, sql string, destPtr *uint32) int32

//go:wasmimport env sql_close
func sql_close(handle int32, destPtr *uint32) int32

// Transport sends requests through the host imports.
type Transport struct{}

var _ driver.Transport = Transport{}

func response(size int32, handle uint32) ([]byte, error) {
	payload := takeBytes(handle)
	if size < 0 {
		return nil, errors.New(string(payload))
	}
	return payload, nil
}

func (Transport) Connect(url string) ([]byte, error) {
	var dest uint32
	size := sql_connect(url, &dest)
	return response(size, dest)
}

func (Transport) Query(h types.Handle, query []byte) ([]byte, error) {
	var dest uint32
	size := sql_query(int32(h), string(query), &dest)
	return response(size, dest)
}

func (Transport) Execute(h types.Handle, query []byte) ([]byte, error) {
	var dest uint32
	size := sql_execute(int32(h), string(query), &dest)
	return response(size, dest)
}

func (Transport) BatchExecute(h types.Handle, sql string) ([]byte, error) {
	var dest uint32
	size := sql_batch_execute(int32(h), sql, &dest)
	return response(size, dest)
}

func (Transport) Close(h types.Handle) ([]byte, error) {
	var dest uint32
	size := sql_close(int32(h), &dest)
	return response(size, dest)
}

// Connect opens a host connection to url.
func Connect(url string, opts driver.Options) (*driver.Conn, error) {
	return driver.Establish(url, Transport{}, opts)
}
