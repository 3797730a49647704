package main

import "os"

func main() {
	os.Exit(newApp().execute(os.Args[1:]))
}
