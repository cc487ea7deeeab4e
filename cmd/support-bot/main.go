package main

import (
	"log"

	"github.com/maryam-mebel/support-bot/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
