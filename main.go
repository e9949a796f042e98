package main

import "github.com/MeKo-Tech/lad/internal/cmd"

func main() {
	cmd.Execute()
}
