// The main package for the crawler executable.
package main

import (
	"github.com/socialminer/crawler/cmd"
)

func main() {
	cmd.Execute()
}
