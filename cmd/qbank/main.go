package main

import "github.com/qbanklabs/qbank-go/internal/adapters/cli"

func main() {
	cli.Execute()
}
