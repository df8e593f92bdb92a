package main

import "github.com/frahmantamala/thematic-predictions/cmd"

func main() {
	cmd.Execute()
}
