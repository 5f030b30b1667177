package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"sitekeeper.io/internal/auth"
)

// hashcode reads an access code from stdin and prints the secret hash, or a
// full actor entry when an id is given: hashcode [id [label]] < code.txt
func main() {
	code, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && code == "" {
		usage()
	}
	code = strings.TrimRight(code, "\r\n")
	if code == "" {
		usage()
	}

	hash, err := auth.HashCode(code)
	if err != nil {
		fmt.Fprintf(os.Stderr, "hash code: %v\n", err)
		os.Exit(1)
	}

	if len(os.Args) < 2 {
		fmt.Println(hash)
		return
	}
	actor := auth.Actor{ID: os.Args[1], SecretHash: hash}
	if len(os.Args) > 2 {
		actor.Label = os.Args[2]
	}
	out, err := json.Marshal(actor)
	if err != nil {
		fmt.Fprintf(os.Stderr, "encode actor: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(out))
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage: echo <code> | %s [id [label]]\n", os.Args[0])
	os.Exit(1)
}
