// Command check_openapi verifies the auth and blog API documents agree on the
// error envelope and describe every route the servers register.
package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) != 3 {
		fmt.Fprintf(os.Stderr, "usage: %s <auth-openapi.yaml> <blog-openapi.yaml>\n", os.Args[0])
		os.Exit(2)
	}
	if err := check(os.Args[1], os.Args[2]); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
	fmt.Println("OpenAPI consistency check passed.")
}
