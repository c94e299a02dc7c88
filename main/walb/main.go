package main

import (
	walb_cmd "github.com/walb-linux/walb-tools-pkg/cmd/walb"
)

func main() {
	walb_cmd.Execute()
}
