// The main package for the rfpscout executable.
package main

import (
	"github.com/rfpscout/rfpscout/cmd"
)

func main() {
	cmd.Execute()
}
