package main

import "github.com/namithm70/fitness-sub000/internal/cli"

func main() {
	cli.Execute()
}
