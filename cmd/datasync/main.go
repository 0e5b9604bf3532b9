// Command datasync keeps local mirrors of remote datasets in sync with a
// sync endpoint.
package main

import "github.com/roach88/datasync/internal/cli"

func main() {
	cli.Main()
}
