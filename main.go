package main

import "stockcrawler/cmd"

func main() {
	cmd.Execute()
}
