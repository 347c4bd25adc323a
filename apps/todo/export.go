//go:build wasip1

package main

import (
	"os"

	"github.com/go-pkgz/lgr"

	"github.com/tomyedwab/guestdb/sqlproxy/driver"
	"github.com/tomyedwab/guestdb/wasi/guest"
)

//go:wasmexport run
func run() int32 {
	conn, err := guest.Connect(os.Getenv("GUESTDB_URL"), driver.Options{Logger: lgr.Std})
	if err != nil {
		lgr.Printf("[ERROR] connect: %v", err)
		return 1
	}
	defer conn.Close()

	if err := runApp(conn, guest.Now, lgr.Std); err != nil {
		lgr.Printf("[ERROR] %v", err)
		return 1
	}
	return 0
}
