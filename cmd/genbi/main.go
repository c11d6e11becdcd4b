package main

import "github.com/suPer8Hu/genbi-gateway/internal/cli"

func main() {
	cli.Execute()
}
