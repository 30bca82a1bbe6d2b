package main

import (
	"log"

	recvaultd "recvault/services/recvaultd"
)

func main() {
	if err := recvaultd.Main(); err != nil {
		log.Fatalf("recvaultd: %v", err)
	}
}
