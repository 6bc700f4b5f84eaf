package main

import "github.com/MeKo-Tech/negafix/internal/cmd"

func main() {
	cmd.Execute()
}
