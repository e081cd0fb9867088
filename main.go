package main

import "github.com/wxdash/wxdashd/cmd"

func main() {
	cmd.Execute()
}
