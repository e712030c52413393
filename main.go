package main

import "github.com/DavidNingthou/TICSAI/cmd"

func main() {
	cmd.Execute()
}
