package main

import (
	"tg-notify-relay/internal/cli"
)

func main() {
	cli.Execute()
}
